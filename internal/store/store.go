// Package store owns the PostgreSQL connection pool and exposes the account
// and term repositories, single-writer transaction scopes and savepoints.
//
// Readers use the pool directly. Writers go through Write, which serializes
// all writers on a transaction-scoped advisory lock so at most one writer
// scope is open at a time. Writers in the same process first queue on an
// in-memory gate bounded only by their context, so the advisory lock wait
// only covers other processes. Lock waits are bounded and an expired wait is
// classified KindLocked, which callers may retry.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/roster/internal/config"
	"github.com/JonMunkholm/roster/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/semaphore"
)

// DefaultAcquireTimeout bounds a pool acquire and a writer lock wait.
const DefaultAcquireTimeout = 10 * time.Second

// DefaultLockTimeout bounds row lock waits inside a writer scope.
const DefaultLockTimeout = 2 * time.Second

// DefaultWriterLockKey is the advisory lock key shared by all writers.
const DefaultWriterLockKey int64 = 72010

// Store is safe for concurrent use. It must outlive every goroutine using it.
type Store struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	lockTimeout    time.Duration
	writerLockKey  int64
	writers        *semaphore.Weighted
}

// Option configures a Store.
type Option func(*Store)

// WithAcquireTimeout bounds pool acquires and the cross-process writer lock wait.
func WithAcquireTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.acquireTimeout = d
		}
	}
}

// WithLockTimeout bounds row lock waits inside a writer scope.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithWriterLockKey sets the advisory lock key shared with other processes.
func WithWriterLockKey(key int64) Option {
	return func(s *Store) { s.writerLockKey = key }
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, errors.New("store: pool is required")
	}
	s := &Store{
		pool:           pool,
		acquireTimeout: DefaultAcquireTimeout,
		lockTimeout:    DefaultLockTimeout,
		writerLockKey:  DefaultWriterLockKey,
		writers:        semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open parses cfg, connects a pool and verifies it with a ping.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return New(pool,
		WithAcquireTimeout(cfg.AcquireTimeout),
		WithLockTimeout(cfg.LockTimeout),
		WithWriterLockKey(cfg.WriterLockKey),
	)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for health checks and migrations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// MaxConns is the pool's connection ceiling.
func (s *Store) MaxConns() int {
	return int(s.pool.Config().MaxConns)
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(logger *slog.Logger) error {
	return database.MigrateUp(s.pool.Config().ConnConfig.Copy(), logger)
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown(logger *slog.Logger) error {
	return database.MigrateDown(s.pool.Config().ConnConfig.Copy(), logger)
}

// Accounts returns an account repository reading through the pool.
func (s *Store) Accounts() *AccountRepository {
	return &AccountRepository{q: database.New(s.pool)}
}

// Terms returns a term repository reading through the pool.
func (s *Store) Terms() *TermRepository {
	return &TermRepository{q: database.New(s.pool)}
}

// acquire borrows a connection, failing with ErrBusy after acquireTimeout.
func (s *Store) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()

	conn, err := s.pool.Acquire(actx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: pool acquire timed out after %s", ErrBusy, s.acquireTimeout)
		}
		return nil, fmt.Errorf("pool acquire: %w", err)
	}
	return conn, nil
}

// Write runs fn inside a single-writer transaction. The scope commits when
// fn returns nil and rolls back otherwise. A failed COMMIT is wrapped in
// ErrCommit.
//
// Writers of this Store wait their turn in process before borrowing a
// connection; that wait ends only when ctx does. Write must not be called
// from inside fn.
func (s *Store) Write(ctx context.Context, fn func(ctx context.Context, w *Writer) error) (err error) {
	if err := s.writers.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for writer turn: %w", err)
	}
	defer s.writers.Release(1)

	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	q := database.New(tx)

	// The advisory lock wait, now only against other processes, shares the
	// acquire budget; row lock waits get the shorter lock timeout.
	if err := q.SetLocalLockTimeout(ctx, millis(s.acquireTimeout)); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	if err := q.AdvisoryXactLock(ctx, s.writerLockKey); err != nil {
		return fmt.Errorf("acquire writer lock: %w", err)
	}
	if err := q.SetLocalLockTimeout(ctx, millis(s.lockTimeout)); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	if err := fn(ctx, &Writer{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}
	committed = true
	return nil
}

func millis(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}

// SetActiveTerm makes id the only active term.
func (s *Store) SetActiveTerm(ctx context.Context, id uuid.UUID) error {
	return s.Write(ctx, func(ctx context.Context, w *Writer) error {
		return w.Terms().SetActive(ctx, id)
	})
}

// Writer is an open writer scope. It is bound to one connection and must not
// be shared across goroutines.
type Writer struct {
	tx         pgx.Tx
	savepoints int
}

// DB exposes the scope's transaction for queries outside the repositories.
func (w *Writer) DB() database.DBTX {
	return w.tx
}

// Accounts returns an account repository bound to this scope.
func (w *Writer) Accounts() *AccountRepository {
	return &AccountRepository{q: database.New(w.tx)}
}

// Terms returns a term repository bound to this scope.
func (w *Writer) Terms() *TermRepository {
	return &TermRepository{q: database.New(w.tx)}
}

// Savepoint runs fn in a nested scope. When fn fails, its writes are rolled
// back to the savepoint and the enclosing scope stays usable.
func (w *Writer) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	w.savepoints++
	name := fmt.Sprintf("sp_%d", w.savepoints)

	if _, err := w.tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}

	if err := fn(ctx); err != nil {
		if _, rbErr := w.tx.Exec(context.WithoutCancel(ctx), "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback savepoint: %w", rbErr))
		}
		return err
	}

	if _, err := w.tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
