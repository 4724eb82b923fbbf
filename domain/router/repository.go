package router

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/conceptdb/gateway/pkg/apperror"
	"github.com/conceptdb/gateway/pkg/logger"
)

// LogStore persists per-query records.
type LogStore interface {
	Insert(ctx context.Context, entry *QueryLog) error
}

// Repository is the bun-backed query log store.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new router repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("router.repo")),
	}
}

// Insert writes one query log row.
func (r *Repository) Insert(ctx context.Context, entry *QueryLog) error {
	_, err := r.db.NewInsert().
		Model(entry).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// RecentForTenant returns the tenant's latest query logs, newest first.
func (r *Repository) RecentForTenant(ctx context.Context, tenant string, limit int) ([]*QueryLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var out []*QueryLog
	err := r.db.NewSelect().
		Model(&out).
		Where("ql.tenant_id = ?", tenant).
		Order("ql.created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return out, nil
}
