package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"
)

// Module provides the bun-backed relational store.
var Module = fx.Module("relational",
	fx.Provide(
		fx.Annotate(
			NewBunStore,
			fx.As(new(Store)),
		),
	),
)

// BunStore adapts a bun.IDB to the Store interface.
type BunStore struct {
	db bun.IDB
}

// NewBunStore creates a relational store over the given bun handle.
func NewBunStore(db bun.IDB) *BunStore {
	return &BunStore{db: db}
}

// Execute runs a SQL statement. SELECT-shaped statements return rows; other
// statements return the affected-row count.
func (s *BunStore) Execute(ctx context.Context, query string, params ...any) ([]Row, int64, error) {
	if returnsRows(query) {
		rows, err := s.db.QueryContext(ctx, query, params...)
		if err != nil {
			return nil, 0, fmt.Errorf("execute query: %w", err)
		}
		defer rows.Close()

		result, err := scanRows(rows)
		if err != nil {
			return nil, 0, err
		}
		return result, int64(len(result)), nil
	}

	res, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return nil, 0, fmt.Errorf("execute statement: %w", err)
	}
	affected, _ := res.RowsAffected()
	return nil, affected, nil
}

// Transaction runs fn inside a bun transaction.
func (s *BunStore) Transaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &BunStore{db: tx})
	})
}

// Now returns the database server's current timestamp.
func (s *BunStore) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.db.NewRaw("SELECT now()").Scan(ctx, &now); err != nil {
		return time.Time{}, fmt.Errorf("select now: %w", err)
	}
	return now, nil
}

// returnsRows reports whether the statement is expected to produce a result
// set. WITH is included because CTEs almost always wrap a SELECT here.
func returnsRows(query string) bool {
	head := strings.ToLower(strings.TrimSpace(query))
	for _, prefix := range []string{"select", "with", "show", "explain", "values", "table"} {
		if strings.HasPrefix(head, prefix) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(query), "returning")
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
