package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/openplay/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"OPENPLAY_CONFIG",
	"OPENPLAY_ADDR",
	"OPENPLAY_STORE",
	"OPENPLAY_DATABASE_URL",
	"OPENPLAY_LOCK",
	"OPENPLAY_REDIS_ADDR",
	"OPENPLAY_LOCK_WAIT_MS",
	"OPENPLAY_K_FACTOR",
	"OPENPLAY_SWAP_PROBABILITY",
	"OPENPLAY_RANDOM_SEED",
	"OPENPLAY_MAX_COURTS",
	"OPENPLAY_LOG_FORMAT",
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("OPENPLAY_ADDR", ":8080")
			_ = os.Setenv("OPENPLAY_LOCK_WAIT_MS", "250")
			_ = os.Setenv("OPENPLAY_K_FACTOR", "24")
			_ = os.Setenv("OPENPLAY_SWAP_PROBABILITY", "0")
			_ = os.Setenv("OPENPLAY_RANDOM_SEED", "42")
			_ = os.Setenv("OPENPLAY_MAX_COURTS", "8")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.LockWaitMS, convey.ShouldEqual, 250)
				convey.So(cfg.KFactor, convey.ShouldEqual, 24.0)
				convey.So(cfg.SwapProbability, convey.ShouldEqual, 0.0)
				convey.So(cfg.RandomSeed, convey.ShouldEqual, int64(42))
				convey.So(cfg.MaxCourts, convey.ShouldEqual, 8)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
store: postgres
database_url: "postgres://openplay@localhost/openplay?sslmode=disable"
lock: redis
redis_addr: "redis:6379"
max_leaderboard_limit: 50
`
			tmpFile := createTempConfigFile(t, yamlContent)
			_ = os.Setenv("OPENPLAY_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.Store, convey.ShouldEqual, config.StorePostgres)
				convey.So(cfg.DatabaseURL, convey.ShouldContainSubstring, "openplay")
				convey.So(cfg.Lock, convey.ShouldEqual, config.LockRedis)
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "redis:6379")
				convey.So(cfg.MaxLeaderboardLimit, convey.ShouldEqual, 50)
			})

			convey.Convey("And env vars take precedence over the file", func() {
				_ = os.Setenv("OPENPLAY_ADDR", ":7070")

				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("OPENPLAY_CONFIG", "/nonexistent/openplay.yaml")

			_, err := config.Load(ctx)

			convey.Convey("Then it should fail to load", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the store needs a missing database url", func() {
			_ = os.Setenv("OPENPLAY_STORE", "postgres")

			_, err := config.Load(ctx)

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a numeric env var is malformed", func() {
			_ = os.Setenv("OPENPLAY_MAX_COURTS", "many")

			_, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, name := range configEnvVars {
		_ = os.Unsetenv(name)
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "openplay-*.yaml")
	if err != nil {
		t.Fatalf("create temp config: %v", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return f.Name()
}
