// Package store is the persistent record of cards, agents, analysis
// sessions, and id sequences. It talks to PostgreSQL directly over
// pgx/v5, with schema managed by embedded golang-migrate migrations
// applied automatically at Open.
package store

import (
	"context"
	"embed"
	stdsql "database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver for database/sql, used only by the migration runner
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps a pgx connection pool and exposes the narrow repository
// the orchestrator and agent runtime use to persist cards, agents, and
// sessions.
type Store struct {
	pool *pgxpool.Pool
	bus  ProgressPublisher
}

// ProgressPublisher is the subset of ProgressBus the Store needs:
// emitting an event after a write commits. Taking this as a narrow
// interface (instead of importing pkg/progress) keeps Store free of a
// dependency on the bus's own lifecycle.
type ProgressPublisher interface {
	Publish(ctx context.Context, event string, payload any)
}

// noopPublisher is used when no bus is wired, so Store never nil-checks
// at the call site.
type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) {}

// Open connects to dsn, runs any pending migrations, and returns a
// ready Store. The caller owns the returned Store's lifetime and must
// call Close.
func Open(ctx context.Context, dsn string, bus ProgressPublisher) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	if bus == nil {
		bus = noopPublisher{}
	}

	slog.Info("store opened", "open_conns", pool.Stat().TotalConns())

	return &Store{pool: pool, bus: bus}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// runMigrations applies every pending migration using a plain
// database/sql connection over the pgx stdlib driver, matching how
// golang-migrate expects to own its own connection rather than a pool.
func runMigrations(dsn string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "cascade", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// WithTx runs fn inside a transaction, committing on success and
// rolling back on any error (including a panic, which is re-raised
// after rollback).
func (s *Store) WithTx(ctx context.Context, fn func(tx pgxTx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(tx)
	return err
}
