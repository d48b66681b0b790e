package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/okian/openplay/internal/adapters/http/api"
	"github.com/okian/openplay/internal/adapters/http/swagger"
	"github.com/okian/openplay/internal/adapters/lock"
	repository "github.com/okian/openplay/internal/adapters/repository"
	"github.com/okian/openplay/internal/adapters/repository/postgres"
	app "github.com/okian/openplay/internal/app"
	"github.com/okian/openplay/internal/config"
	"github.com/okian/openplay/pkg/logger"
	"github.com/okian/openplay/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 10 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use fmt for initialization errors since logger isn't available yet
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}
	log := logger.Named("openplay")

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "openplay stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

// run wires the process and blocks until ctx is cancelled or the HTTP
// server fails.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	locker, closeLocker, err := openLocker(ctx, cfg, log)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer closeLocker()

	svc := newService(cfg, store, locker, log)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})

	err = g.Wait()
	log.Info(context.Background(), "server stopped")
	return err
}

// openStore selects the storage backend.
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL,
			postgres.WithMaxOpenConns(cfg.DBMaxOpenConns),
			postgres.WithRetries(cfg.ConflictRetries),
			postgres.WithMigrate(cfg.DBMigrate),
			postgres.WithLogger(log.Named("postgres")))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		log.Info(ctx, "using postgres store")
		return s, nil
	default:
		log.Info(ctx, "using memory store")
		return repository.NewMemoryStore(repository.WithLogger(log.Named("memory"))), nil
	}
}

// openLocker selects the session lock backend. The returned func releases
// its resources.
func openLocker(ctx context.Context, cfg *config.Config, log logger.Logger) (lock.Locker, func(), error) {
	switch cfg.Lock {
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		log.Info(ctx, "using redis session lock", logger.String("addr", cfg.RedisAddr))
		l := lock.NewRedis(client,
			lock.WithTTL(cfg.LockTTL()),
			lock.WithWait(cfg.LockWait()),
			lock.WithRedisLogger(log.Named("lock")))
		return l, func() { _ = client.Close() }, nil
	default:
		return lock.NewLocal(lock.WithLocalWait(cfg.LockWait())), func() {}, nil
	}
}

func newService(cfg *config.Config, store repository.Store, locker lock.Locker, log logger.Logger) *app.Service {
	return app.New(store, locker,
		app.WithLogger(log.Named("service")),
		app.WithKFactor(cfg.KFactor),
		app.WithDefaultRating(cfg.DefaultRating),
		app.WithSwapProbability(cfg.SwapProbability),
		app.WithSeed(cfg.RandomSeed),
		app.WithLimits(cfg.MaxCourts, cfg.MaxDurationHours),
		app.WithMaxLeaderboardLimit(cfg.MaxLeaderboardLimit),
	)
}

func newMux(ctx context.Context, svc *app.Service) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc).Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater refreshes the system gauges until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.CollectSystem()
		}
	}
}
