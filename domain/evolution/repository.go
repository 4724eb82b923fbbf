package evolution

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

// StateStore persists the evolution singleton.
type StateStore interface {
	// Load returns the persisted state, creating the initial phase-1 row
	// when none exists yet.
	Load(ctx context.Context) (*State, error)

	// Save writes the state.
	Save(ctx context.Context, state *State) error
}

// Repository is the bun-backed state store.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new evolution repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("evolution.repo")),
	}
}

// Load returns the singleton row, inserting the phase-1 initial state at
// first boot.
func (r *Repository) Load(ctx context.Context) (*State, error) {
	state := &State{}
	err := r.db.NewSelect().
		Model(state).
		Where("es.id = 1").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		state = &State{
			ID:           1,
			Phase:        MinPhase,
			ConceptRatio: ConceptRatioFor(MinPhase),
			Counters:     map[string]any{},
			UpdatedAt:    time.Now().UTC(),
		}
		if _, ierr := r.db.NewInsert().
			Model(state).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx); ierr != nil {
			return nil, apperror.ErrDatabase.WithInternal(ierr)
		}
		r.log.Info("initialized evolution state at phase 1")
		return state, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return state, nil
}

// Save writes the singleton row.
func (r *Repository) Save(ctx context.Context, state *State) error {
	state.ID = 1
	state.UpdatedAt = time.Now().UTC()
	_, err := r.db.NewInsert().
		Model(state).
		On("CONFLICT (id) DO UPDATE").
		Set("phase = EXCLUDED.phase").
		Set("concept_ratio = EXCLUDED.concept_ratio").
		Set("counters = EXCLUDED.counters").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// MemoryStateStore keeps the state in memory (tests, standalone mode).
type MemoryStateStore struct {
	mu    sync.Mutex
	state *State
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

// Load returns the stored state, creating the initial one when absent.
func (s *MemoryStateStore) Load(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.state = &State{
			ID:           1,
			Phase:        MinPhase,
			ConceptRatio: ConceptRatioFor(MinPhase),
			Counters:     map[string]any{},
			UpdatedAt:    time.Now().UTC(),
		}
	}
	snapshot := *s.state
	return &snapshot, nil
}

// Save stores a copy of the state.
func (s *MemoryStateStore) Save(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := *state
	s.state = &snapshot
	return nil
}
