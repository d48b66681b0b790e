// Package postgres implements repository.Store on PostgreSQL through
// database/sql and lib/pq. Atomic units run as SERIALIZABLE transactions
// and are retried a bounded number of times on serialization failures.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/collectors"

	repository "github.com/okian/openplay/internal/adapters/repository"
	"github.com/okian/openplay/internal/domain/errs"
	"github.com/okian/openplay/pkg/logger"
	"github.com/okian/openplay/pkg/metrics"
)

const backend = "postgres"

//go:embed schema.sql
var schema string

// SQLExecutor is satisfied by both *sql.DB and *sql.Tx.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a PostgreSQL-backed repository.Store.
type Store struct {
	db           *sql.DB
	maxOpenConns int
	retries      int
	backoff      time.Duration
	migrate      bool
	logger       logger.Logger
}

// Open connects to dsn, verifies the connection and optionally applies the
// schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, ErrMissingDSN
	}
	s := &Store{
		maxOpenConns: defaultMaxOpenConns,
		retries:      defaultRetries,
		backoff:      defaultRetryBackoff,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database handle: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConns)
	db.SetMaxIdleConns(s.maxOpenConns)
	db.SetConnMaxLifetime(defaultConnLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	if s.migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := metrics.Register(collectors.NewDBStatsCollector(db, "openplay")); err != nil {
		s.logger.Warn(ctx, "database pool metrics not registered", logger.Error(err))
	}
	s.logger.Info(ctx, "connected to postgres", logger.Int("max_open_conns", s.maxOpenConns))
	return s, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// DB exposes the handle for tests and tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Repositories returns repositories that run each statement on the pool.
func (s *Store) Repositories() repository.Repositories {
	return reposFor(s.db)
}

// Atomic runs fn in a SERIALIZABLE transaction. Serialization failures and
// deadlocks restart fn from scratch up to the configured retry count and then
// surface as errs.ErrConflict.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	const op = "postgres.atomic"
	start := time.Now()
	defer func() {
		metrics.RecordStoreTx(backend, float64(time.Since(start).Microseconds())/1000)
	}()

	backoff := s.backoff
	for attempt := 0; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= s.retries {
			metrics.RecordErrorByComponent(backend, "conflict")
			return errs.WrapKind(op, errs.ErrConflict, err)
		}
		metrics.RecordStoreTxRetry(backend)
		s.logger.Debug(ctx, "retrying serializable transaction",
			logger.Int("attempt", attempt+1),
			logger.String("code", string(pqCode(err))))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn(ctx, "rollback failed", logger.Error(rbErr))
			}
		}
	}()

	if err = fn(ctx, reposFor(tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// mapErr translates driver errors into repository sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	switch pqCode(err) {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %w", repository.ErrDuplicate, err)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %w", repository.ErrNotFound, err)
	}
	return err
}

func checkAffectedRows(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
