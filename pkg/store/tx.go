package store

import "github.com/jackc/pgx/v5"

// pgxTx is the query surface WithTx hands to a unit of work: enough to
// run statements against pgx without leaking pool-vs-tx distinctions
// into callers.
type pgxTx = pgx.Tx
