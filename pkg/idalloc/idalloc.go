// Package idalloc issues monotonically increasing, never-reused values
// per named sequence (e.g. "card_REV", "agent_Function"), backed by the
// store's id_sequences table.
package idalloc

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgx's pool/transaction surface Allocator
// needs. Accepting this instead of a concrete pool or tx type lets
// Next run inside a caller's transaction (the usual case — Store
// allocates a card id in the same transaction that inserts the row) or
// standalone against the pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Allocator issues sequence values.
type Allocator struct {
	q Querier
}

// New builds an Allocator bound to q. Pass a pgxpool.Pool for
// standalone allocation, or a pgx.Tx to allocate within a larger unit
// of work (both satisfy Querier).
func New(q Querier) *Allocator {
	return &Allocator{q: q}
}

// Next atomically advances the named sequence and returns the new
// value. The upsert is a single statement: under Postgres, the
// INSERT ... ON CONFLICT DO UPDATE path takes a row lock that makes
// concurrent callers on the same name serialize, and the value is
// consumed by the advance itself — never re-issued once the advance
// commits, even if the caller that requested it never uses it. Run
// inside a caller's transaction, the advance commits or rolls back
// with that transaction, so a rolled-back value is issued again.
func (a *Allocator) Next(ctx context.Context, name string) (int64, error) {
	const q = `
		INSERT INTO id_sequences (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = id_sequences.value + 1
		RETURNING value`

	var value int64
	if err := a.q.QueryRow(ctx, q, name).Scan(&value); err != nil {
		return 0, fmt.Errorf("idalloc: advance %q: %w", name, err)
	}
	return value, nil
}
