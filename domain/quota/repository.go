package quota

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"github.com/conceptdb/gateway/pkg/apperror"
	"github.com/conceptdb/gateway/pkg/logger"
)

// LimitsProvider resolves a tenant's limits. Returns (nil, nil) when the
// tenant has no quota row.
type LimitsProvider interface {
	Limits(ctx context.Context, tenant string) (*Limits, error)
}

// UsageStore holds the monthly counters. CheckAndIncrement must be atomic
// per (tenant, resource, window): concurrent admits never push the counter
// past the limit.
type UsageStore interface {
	// CheckAndIncrement adds delta when used+delta <= limit and reports
	// whether it did, along with the resulting count.
	CheckAndIncrement(ctx context.Context, tenant, resource string, windowStart time.Time, delta, limit int64) (bool, int64, error)

	// Used returns the current count for the window.
	Used(ctx context.Context, tenant, resource string, windowStart time.Time) (int64, error)
}

// =============================================================================
// Bun-backed implementations
// =============================================================================

// Repository persists tenant quotas and monthly usage.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new quota repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("quota.repo")),
	}
}

// Limits returns the tenant's persisted limits, or nil when absent.
func (r *Repository) Limits(ctx context.Context, tenant string) (*Limits, error) {
	row := &TenantQuota{}
	err := r.db.NewSelect().
		Model(row).
		Where("tq.tenant_id = ?", tenant).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	limits := row.Limits()
	return &limits, nil
}

// Upsert writes a tenant's limits.
func (r *Repository) Upsert(ctx context.Context, row *TenantQuota) error {
	row.UpdatedAt = time.Now().UTC()
	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (tenant_id) DO UPDATE").
		Set("max_concepts = EXCLUDED.max_concepts").
		Set("max_queries_per_month = EXCLUDED.max_queries_per_month").
		Set("max_api_calls_per_month = EXCLUDED.max_api_calls_per_month").
		Set("max_storage_bytes = EXCLUDED.max_storage_bytes").
		Set("max_queries_per_minute = EXCLUDED.max_queries_per_minute").
		Set("max_api_calls_per_second = EXCLUDED.max_api_calls_per_second").
		Set("max_phase = EXCLUDED.max_phase").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// CheckAndIncrement atomically bumps the counter when there is headroom.
// The conditional upsert makes concurrent admits safe: the WHERE clause on
// the update arm rejects increments that would cross the limit.
func (r *Repository) CheckAndIncrement(ctx context.Context, tenant, resource string, windowStart time.Time, delta, limit int64) (bool, int64, error) {
	var used int64
	err := r.db.NewRaw(`
		INSERT INTO kb.tenant_usage (tenant_id, resource, window_start, used, updated_at)
		SELECT ?, ?, ?, ?, now()
		WHERE ? <= ?
		ON CONFLICT (tenant_id, resource, window_start) DO UPDATE
		SET used = kb.tenant_usage.used + ?, updated_at = now()
		WHERE kb.tenant_usage.used + ? <= ?
		RETURNING used`,
		tenant, resource, windowStart, delta, delta, limit, delta, delta, limit,
	).Scan(ctx, &used)
	if errors.Is(err, sql.ErrNoRows) {
		// Neither the insert nor the conflict arm wrote: over limit
		current, uerr := r.Used(ctx, tenant, resource, windowStart)
		if uerr != nil {
			return false, 0, uerr
		}
		return false, current, nil
	}
	if err != nil {
		return false, 0, apperror.ErrDatabase.WithInternal(err)
	}
	return true, used, nil
}

// Used returns the current counter for the window.
func (r *Repository) Used(ctx context.Context, tenant, resource string, windowStart time.Time) (int64, error) {
	row := &TenantUsage{}
	err := r.db.NewSelect().
		Model(row).
		Where("tu.tenant_id = ?", tenant).
		Where("tu.resource = ?", resource).
		Where("tu.window_start = ?", windowStart).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	return row.Used, nil
}

// =============================================================================
// In-memory implementations (standalone mode, tests)
// =============================================================================

// MemoryUsageStore keeps monthly counters in memory under one mutex shared by
// all keys.
type MemoryUsageStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryUsageStore creates an empty in-memory usage store.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{counters: make(map[string]int64)}
}

func usageKey(tenant, resource string, windowStart time.Time) string {
	return tenant + "\x00" + resource + "\x00" + windowStart.UTC().Format(time.RFC3339)
}

// CheckAndIncrement adds delta when there is headroom.
func (s *MemoryUsageStore) CheckAndIncrement(ctx context.Context, tenant, resource string, windowStart time.Time, delta, limit int64) (bool, int64, error) {
	key := usageKey(tenant, resource, windowStart)

	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.counters[key]
	if used+delta > limit {
		return false, used, nil
	}
	used += delta
	s.counters[key] = used
	return true, used, nil
}

// Used returns the current counter for the window.
func (s *MemoryUsageStore) Used(ctx context.Context, tenant, resource string, windowStart time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[usageKey(tenant, resource, windowStart)], nil
}

// StaticLimitsProvider returns the same limits for every tenant (tests).
type StaticLimitsProvider struct {
	Plan Limits
}

// Limits returns the static plan.
func (p *StaticLimitsProvider) Limits(ctx context.Context, tenant string) (*Limits, error) {
	plan := p.Plan
	return &plan, nil
}
