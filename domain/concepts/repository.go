package concepts

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/conceptdb/gateway/pkg/apperror"
	"github.com/conceptdb/gateway/pkg/logger"
)

// Repository handles database operations for concepts and relations.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new concept repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("concepts.repo")),
	}
}

// withTx returns a repository bound to the given transaction handle.
func (r *Repository) withTx(tx bun.IDB) *Repository {
	return &Repository{db: tx, log: r.log}
}

// RunInTx executes fn with a repository bound to a single transaction.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, repo *Repository) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, r.withTx(tx))
	})
}

// Insert persists a new concept row.
func (r *Repository) Insert(ctx context.Context, concept *Concept) error {
	_, err := r.db.NewInsert().
		Model(concept).
		Exec(ctx)
	if err != nil {
		return apperror.ErrMetadataBackend.WithInternal(err)
	}
	return nil
}

// Get returns the concept with the given id scoped to the tenant.
func (r *Repository) Get(ctx context.Context, tenant, id string) (*Concept, error) {
	concept := &Concept{}
	err := r.db.NewSelect().
		Model(concept).
		Where("c.id = ?", id).
		Where("c.tenant_id = ?", tenant).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("concept", id)
	}
	if err != nil {
		return nil, apperror.ErrMetadataBackend.WithInternal(err)
	}
	return concept, nil
}

// GetMany returns the concepts with the given ids scoped to the tenant.
// Missing ids are silently skipped.
func (r *Repository) GetMany(ctx context.Context, tenant string, ids []string) ([]*Concept, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var out []*Concept
	err := r.db.NewSelect().
		Model(&out).
		Where("c.id IN (?)", bun.In(ids)).
		Where("c.tenant_id = ?", tenant).
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrMetadataBackend.WithInternal(err)
	}
	return out, nil
}

// List returns a page of the tenant's concepts ordered by updated_at desc.
func (r *Repository) List(ctx context.Context, tenant string, limit, offset int) ([]*Concept, int, error) {
	var out []*Concept
	total, err := r.db.NewSelect().
		Model(&out).
		Where("c.tenant_id = ?", tenant).
		Order("c.updated_at DESC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, apperror.ErrMetadataBackend.WithInternal(err)
	}
	return out, total, nil
}

// Update persists name/description/metadata/strength changes and bumps
// updated_at.
func (r *Repository) Update(ctx context.Context, concept *Concept) error {
	concept.UpdatedAt = time.Now().UTC()
	res, err := r.db.NewUpdate().
		Model(concept).
		Column("name", "description", "metadata", "strength", "updated_at").
		WherePK().
		Where("c.tenant_id = ?", concept.TenantID).
		Exec(ctx)
	if err != nil {
		return apperror.ErrMetadataBackend.WithInternal(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperror.NewNotFound("concept", concept.ID)
	}
	return nil
}

// UpdateStrength persists only the strength column without touching
// updated_at, so opportunistic recomputes don't look like edits.
func (r *Repository) UpdateStrength(ctx context.Context, id string, strength float64) error {
	_, err := r.db.NewUpdate().
		Model((*Concept)(nil)).
		Set("strength = ?", strength).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrMetadataBackend.WithInternal(err)
	}
	return nil
}

// IncrementUsage bumps usage_count for the given ids.
func (r *Repository) IncrementUsage(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.NewUpdate().
		Model((*Concept)(nil)).
		Set("usage_count = usage_count + 1").
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return apperror.ErrMetadataBackend.WithInternal(err)
	}
	return nil
}

// AddUsage adds delta to usage_count, used when merging absorbs a concept's
// history.
func (r *Repository) AddUsage(ctx context.Context, id string, delta int64) error {
	if delta == 0 {
		return nil
	}
	_, err := r.db.NewUpdate().
		Model((*Concept)(nil)).
		Set("usage_count = usage_count + ?", delta).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrMetadataBackend.WithInternal(err)
	}
	return nil
}

// Delete removes the concept row; incident relations cascade.
func (r *Repository) Delete(ctx context.Context, tenant, id string) error {
	res, err := r.db.NewDelete().
		Model((*Concept)(nil)).
		Where("id = ?", id).
		Where("tenant_id = ?", tenant).
		Exec(ctx)
	if err != nil {
		return apperror.ErrMetadataBackend.WithInternal(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperror.NewNotFound("concept", id)
	}
	return nil
}

// Count returns the tenant's concept count.
func (r *Repository) Count(ctx context.Context, tenant string) (int64, error) {
	count, err := r.db.NewSelect().
		Model((*Concept)(nil)).
		Where("tenant_id = ?", tenant).
		Count(ctx)
	if err != nil {
		return 0, apperror.ErrMetadataBackend.WithInternal(err)
	}
	return int64(count), nil
}

// FindBySourceKey returns the concept carrying the given source_key in its
// metadata, or nil when none exists.
func (r *Repository) FindBySourceKey(ctx context.Context, tenant, sourceKey string) (*Concept, error) {
	concept := &Concept{}
	err := r.db.NewSelect().
		Model(concept).
		Where("c.tenant_id = ?", tenant).
		Where("c.metadata->>? = ?", MetaSourceKey, sourceKey).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrMetadataBackend.WithInternal(err)
	}
	return concept, nil
}

// ChangedSince returns concepts updated after the checkpoint, ordered by
// (updated_at, id) so the synchronizer can resume deterministically.
func (r *Repository) ChangedSince(ctx context.Context, tenant string, since time.Time, afterID string, limit int) ([]*Concept, error) {
	var out []*Concept
	err := r.db.NewSelect().
		Model(&out).
		Where("c.tenant_id = ?", tenant).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereOr("c.updated_at > ?", since).
				WhereOr("c.updated_at = ? AND c.id > ?", since, afterID)
		}).
		Order("c.updated_at ASC", "c.id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrMetadataBackend.WithInternal(err)
	}
	return out, nil
}

// =============================================================================
// Relations
// =============================================================================

// InsertRelation creates an edge; inserting a duplicate (source, target, type)
// fails with a conflict.
func (r *Repository) InsertRelation(ctx context.Context, rel *Relation) error {
	_, err := r.db.NewInsert().
		Model(rel).
		Exec(ctx)
	if err != nil {
		return apperror.ErrMetadataBackend.WithInternal(err)
	}
	return nil
}

// UpsertRelation creates or replaces an edge, keeping the higher strength.
func (r *Repository) UpsertRelation(ctx context.Context, rel *Relation) error {
	_, err := r.db.NewInsert().
		Model(rel).
		On("CONFLICT (source_id, target_id, type) DO UPDATE").
		Set("strength = GREATEST(cr.strength, EXCLUDED.strength)").
		Exec(ctx)
	if err != nil {
		return apperror.ErrMetadataBackend.WithInternal(err)
	}
	return nil
}

// DeleteRelation removes a single typed edge.
func (r *Repository) DeleteRelation(ctx context.Context, sourceID, targetID, relType string) error {
	res, err := r.db.NewDelete().
		Model((*Relation)(nil)).
		Where("source_id = ?", sourceID).
		Where("target_id = ?", targetID).
		Where("type = ?", relType).
		Exec(ctx)
	if err != nil {
		return apperror.ErrMetadataBackend.WithInternal(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperror.ErrNotFound.WithMessage("relation not found")
	}
	return nil
}

// DeleteRelationsOf removes every edge with id as either endpoint.
func (r *Repository) DeleteRelationsOf(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*Relation)(nil)).
		WhereGroup(" OR ", func(q *bun.DeleteQuery) *bun.DeleteQuery {
			return q.
				WhereOr("source_id = ?", id).
				WhereOr("target_id = ?", id)
		}).
		Exec(ctx)
	if err != nil {
		return apperror.ErrMetadataBackend.WithInternal(err)
	}
	return nil
}

// RelationsOf returns every edge with any of the ids as an endpoint, ordered
// deterministically.
func (r *Repository) RelationsOf(ctx context.Context, ids []string) ([]*Relation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var out []*Relation
	err := r.db.NewSelect().
		Model(&out).
		WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereOr("source_id IN (?)", bun.In(ids)).
				WhereOr("target_id IN (?)", bun.In(ids))
		}).
		Order("source_id ASC", "target_id ASC", "type ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrMetadataBackend.WithInternal(err)
	}
	return out, nil
}

// Degree returns the number of edges incident to id.
func (r *Repository) Degree(ctx context.Context, id string) (int, error) {
	count, err := r.db.NewSelect().
		Model((*Relation)(nil)).
		WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereOr("source_id = ?", id).
				WhereOr("target_id = ?", id)
		}).
		Count(ctx)
	if err != nil {
		return 0, apperror.ErrMetadataBackend.WithInternal(err)
	}
	return count, nil
}
