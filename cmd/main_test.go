package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/openplay/internal/adapters/lock"
	"github.com/okian/openplay/internal/config"
	"github.com/okian/openplay/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given default configuration", t, func() {
		ctx := context.Background()
		cfg := config.New()
		log := logger.Nop()

		convey.Convey("When opening the default backends", func() {
			store, err := openStore(ctx, cfg, log)
			convey.So(err, convey.ShouldBeNil)
			locker, closeLocker, err := openLocker(ctx, cfg, log)
			convey.So(err, convey.ShouldBeNil)
			defer closeLocker()

			convey.Convey("Then the memory store and local lock are used", func() {
				_, isLocal := locker.(*lock.Local)
				convey.So(isLocal, convey.ShouldBeTrue)
				convey.So(store.Close(), convey.ShouldBeNil)
			})

			convey.Convey("And the mux serves the API and docs", func() {
				svc := newService(cfg, store, locker, log)
				mux := newMux(ctx, svc)

				for _, path := range []string{"/healthz", "/stats", "/openapi.yaml", "/api-docs", "/leaderboard"} {
					w := httptest.NewRecorder()
					mux.ServeHTTP(w, httptest.NewRequest("GET", path, http.NoBody))
					convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				}

				w := httptest.NewRecorder()
				mux.ServeHTTP(w, httptest.NewRequest("POST", "/sessions", strings.NewReader(`{"courts":2,"duration_hours":1}`)))
				convey.So(w.Code, convey.ShouldEqual, http.StatusCreated)
			})
		})

		convey.Convey("When the configured backends are unreachable", func() {
			tctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()

			pg := config.New()
			pg.Store = config.StorePostgres
			pg.DatabaseURL = "postgres://openplay@127.0.0.1:1/openplay?sslmode=disable&connect_timeout=1"
			_, storeErr := openStore(tctx, pg, log)

			rd := config.New()
			rd.Lock = config.LockRedis
			rd.RedisAddr = "127.0.0.1:1"
			_, _, lockErr := openLocker(tctx, rd, log)

			convey.Convey("Then opening fails with an error", func() {
				convey.So(storeErr, convey.ShouldNotBeNil)
				convey.So(lockErr, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When testing system metrics updater", func() {
			tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()

			convey.So(func() { startSystemMetricsUpdater(tctx) }, convey.ShouldNotPanic)
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a config listening on a free port", t, func() {
		cfg := config.New()
		cfg.Addr = "127.0.0.1:0"

		convey.Convey("When the root context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- run(ctx, cfg, logger.Nop()) }()

			time.Sleep(50 * time.Millisecond)
			cancel()

			convey.Convey("Then run shuts down cleanly", func() {
				select {
				case err := <-done:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(5 * time.Second):
					t.Fatal("run did not return")
				}
			})
		})
	})
}
