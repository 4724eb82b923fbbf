// Package relational defines the relational engine interface the router and
// synchronizer consume, plus the shipped bun/pgx adapter.
//
// The gateway does not own a query planner; it forwards SQL text to the
// engine and surfaces rows as opaque column-keyed maps.
package relational

import (
	"context"
	"time"
)

// Row is a relational row surfaced to the router, keyed by column name.
type Row map[string]any

// Store is the narrow surface the gateway needs from a relational engine.
type Store interface {
	// Execute runs a SQL statement with positional params and returns the
	// result rows (nil for statements without a result set) and the number
	// of affected rows.
	Execute(ctx context.Context, sql string, params ...any) ([]Row, int64, error)

	// Transaction runs fn inside a transaction, committing when fn returns
	// nil and rolling back otherwise.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Now returns the engine's current timestamp. Sync conflict resolution
	// compares the row's and the concept's own timestamps and does not call it.
	Now(ctx context.Context) (time.Time, error)
}
