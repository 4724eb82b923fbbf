package sync

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

// CheckpointStore persists per-direction progress.
type CheckpointStore interface {
	// Load returns the checkpoint for a direction, or nil when none exists.
	Load(ctx context.Context, direction string) (*Checkpoint, error)

	// Save writes the checkpoint. The advance must be monotonic.
	Save(ctx context.Context, cp *Checkpoint) error
}

// QuarantineStore stages conflicts for manual resolution.
type QuarantineStore interface {
	Add(ctx context.Context, item *QuarantineItem) error
	CountUnresolved(ctx context.Context) (int, error)
	ListUnresolved(ctx context.Context, limit int) ([]*QuarantineItem, error)
	Resolve(ctx context.Context, id string) error
}

// Repository is the bun-backed checkpoint and quarantine store.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new sync repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("sync.repo")),
	}
}

// Load returns the checkpoint for a direction.
func (r *Repository) Load(ctx context.Context, direction string) (*Checkpoint, error) {
	cp := &Checkpoint{}
	err := r.db.NewSelect().
		Model(cp).
		Where("sc.direction = ?", direction).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return cp, nil
}

// Save upserts the checkpoint. The WHERE clause keeps the advance monotonic
// even when two runs race.
func (r *Repository) Save(ctx context.Context, cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	_, err := r.db.NewInsert().
		Model(cp).
		On("CONFLICT (direction) DO UPDATE").
		Set("last_updated_at = EXCLUDED.last_updated_at").
		Set("last_id = EXCLUDED.last_id").
		Set("row_hash = EXCLUDED.row_hash").
		Set("updated_at = EXCLUDED.updated_at").
		Where("sc.last_updated_at < EXCLUDED.last_updated_at OR (sc.last_updated_at = EXCLUDED.last_updated_at AND sc.last_id <= EXCLUDED.last_id)").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// Add stages a conflict.
func (r *Repository) Add(ctx context.Context, item *QuarantineItem) error {
	_, err := r.db.NewInsert().
		Model(item).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// CountUnresolved returns the number of staged conflicts.
func (r *Repository) CountUnresolved(ctx context.Context) (int, error) {
	count, err := r.db.NewSelect().
		Model((*QuarantineItem)(nil)).
		Where("resolved_at IS NULL").
		Count(ctx)
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	return count, nil
}

// ListUnresolved returns staged conflicts, oldest first.
func (r *Repository) ListUnresolved(ctx context.Context, limit int) ([]*QuarantineItem, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var out []*QuarantineItem
	err := r.db.NewSelect().
		Model(&out).
		Where("resolved_at IS NULL").
		Order("detected_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return out, nil
}

// Resolve marks a staged conflict as handled.
func (r *Repository) Resolve(ctx context.Context, id string) error {
	res, err := r.db.NewUpdate().
		Model((*QuarantineItem)(nil)).
		Set("resolved_at = now()").
		Where("id = ?", id).
		Where("resolved_at IS NULL").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperror.NewNotFound("quarantine item", id)
	}
	return nil
}

// =============================================================================
// In-memory implementations (tests, standalone mode)
// =============================================================================

// MemoryCheckpointStore keeps checkpoints in memory.
type MemoryCheckpointStore struct {
	mu  sync.Mutex
	cps map[string]Checkpoint
}

// NewMemoryCheckpointStore creates an empty in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{cps: make(map[string]Checkpoint)}
}

// Load returns the checkpoint for a direction.
func (s *MemoryCheckpointStore) Load(ctx context.Context, direction string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.cps[direction]; ok {
		out := cp
		return &out, nil
	}
	return nil, nil
}

// Save stores the checkpoint when it advances.
func (s *MemoryCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.cps[cp.Direction]; ok {
		if cp.LastUpdatedAt.Before(prev.LastUpdatedAt) ||
			(cp.LastUpdatedAt.Equal(prev.LastUpdatedAt) && cp.LastID < prev.LastID) {
			return nil
		}
	}
	s.cps[cp.Direction] = *cp
	return nil
}

// MemoryQuarantineStore keeps staged conflicts in memory.
type MemoryQuarantineStore struct {
	mu    sync.Mutex
	items []*QuarantineItem
	next  int
}

// NewMemoryQuarantineStore creates an empty in-memory quarantine store.
func NewMemoryQuarantineStore() *MemoryQuarantineStore {
	return &MemoryQuarantineStore{}
}

// Add stages a conflict.
func (s *MemoryQuarantineStore) Add(ctx context.Context, item *QuarantineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		s.next++
		item.ID = time.Now().UTC().Format("20060102150405") + "-" + string(rune('a'+s.next%26))
	}
	if item.DetectedAt.IsZero() {
		item.DetectedAt = time.Now().UTC()
	}
	s.items = append(s.items, item)
	return nil
}

// CountUnresolved returns the number of staged conflicts.
func (s *MemoryQuarantineStore) CountUnresolved(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, item := range s.items {
		if item.ResolvedAt == nil {
			count++
		}
	}
	return count, nil
}

// ListUnresolved returns staged conflicts.
func (s *MemoryQuarantineStore) ListUnresolved(ctx context.Context, limit int) ([]*QuarantineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*QuarantineItem
	for _, item := range s.items {
		if item.ResolvedAt == nil {
			out = append(out, item)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Resolve marks a staged conflict as handled.
func (s *MemoryQuarantineStore) Resolve(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ID == id && item.ResolvedAt == nil {
			now := time.Now().UTC()
			item.ResolvedAt = &now
			return nil
		}
	}
	return apperror.NewNotFound("quarantine item", id)
}
