package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptdb/gateway/domain/concepts"
	"github.com/conceptdb/gateway/domain/evolution"
	"github.com/conceptdb/gateway/domain/intent"
	"github.com/conceptdb/gateway/pkg/apperror"
	"github.com/conceptdb/gateway/pkg/cache"
	"github.com/conceptdb/gateway/pkg/relational"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeGate struct {
	mu     sync.Mutex
	admits int
	refuse error
}

func (g *fakeGate) Admit(ctx context.Context, tenant, resource string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refuse != nil {
		return g.refuse
	}
	g.admits++
	return nil
}

type fakeRelational struct {
	mu    sync.Mutex
	calls int
	rows  []relational.Row
	err   error
	delay time.Duration
}

func (f *fakeRelational) Execute(ctx context.Context, sql string, params ...any) ([]relational.Row, int64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.rows, int64(len(f.rows)), nil
}

func (f *fakeRelational) Transaction(ctx context.Context, fn func(ctx context.Context, tx relational.Store) error) error {
	return fn(ctx, f)
}

func (f *fakeRelational) Now(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (f *fakeRelational) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSemantic struct {
	mu    sync.Mutex
	calls int
	hits  []concepts.ScoredConcept
	err   error
	delay time.Duration
}

func (f *fakeSemantic) SemanticSearch(ctx context.Context, tenant string, req *concepts.SearchRequest) ([]concepts.ScoredConcept, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, apperror.ErrDeadlineExceeded.WithInternal(ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func (f *fakeSemantic) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryLogStore struct {
	mu      sync.Mutex
	entries []*QueryLog
}

func (s *memoryLogStore) Insert(ctx context.Context, entry *QueryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memoryLogStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *memoryLogStore) last() *QueryLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil
	}
	return s.entries[len(s.entries)-1]
}

type fakeObserver struct {
	mu           sync.Mutex
	observations []evolution.Observation
}

func (o *fakeObserver) Observe(obs evolution.Observation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observations = append(o.observations, obs)
}

func (o *fakeObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.observations)
}

type staticRatio float64

func (r staticRatio) ConceptRatio() float64 { return float64(r) }

// harness bundles the router with its fakes.
type harness struct {
	svc      *Service
	gate     *fakeGate
	rel      *fakeRelational
	semantic *fakeSemantic
	logs     *memoryLogStore
	observer *fakeObserver
}

func newHarness(cfg Config) *harness {
	h := &harness{
		gate:     &fakeGate{},
		rel:      &fakeRelational{},
		semantic: &fakeSemantic{},
		logs:     &memoryLogStore{},
		observer: &fakeObserver{},
	}

	analyzer := intent.NewAnalyzer(staticRatio(0.1), nil, intent.Config{}, slog.Default())

	h.svc = NewService(
		h.gate,
		analyzer,
		h.rel,
		h.semantic,
		cache.NewMemoryCache(128, time.Minute),
		h.logs,
		h.observer,
		cfg,
		slog.Default(),
	)
	return h
}

func scored(id, name string, score float64) concepts.ScoredConcept {
	return concepts.ScoredConcept{
		Concept: &concepts.Concept{ID: id, TenantID: "t1", Name: name},
		Score:   score,
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestExecute_SQLPathNeverTouchesConceptStore(t *testing.T) {
	h := newHarness(Config{})
	h.rel.rows = []relational.Row{{"id": 1, "name": "widget"}}

	result, info, err := h.svc.Execute(context.Background(), "t1",
		"SELECT name FROM products WHERE price < 100", QueryOpts{})
	require.NoError(t, err)

	assert.Equal(t, intent.KindSQL, info.Kind)
	assert.Equal(t, 1.0, info.Confidence)
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, ItemTypeRow, result.Items[0].Type)

	assert.Equal(t, 1, h.rel.callCount())
	assert.Equal(t, 0, h.semantic.callCount(), "concept store must not be contacted for sql@1.0")
}

func TestExecute_SemanticPathNeverTouchesRelational(t *testing.T) {
	h := newHarness(Config{})
	h.semantic.hits = []concepts.ScoredConcept{scored("c1", "AirPods Pro", 0.88)}

	result, info, err := h.svc.Execute(context.Background(), "t1",
		"find products similar to noise-cancelling headphones", QueryOpts{})
	require.NoError(t, err)

	assert.Equal(t, intent.KindSemantic, info.Kind)
	assert.GreaterOrEqual(t, info.Confidence, 0.7)
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "AirPods Pro", result.Items[0].Concept.Name)
	assert.InDelta(t, 0.88, result.Items[0].Score, 1e-9)

	assert.Equal(t, 0, h.rel.callCount(), "relational store must not be contacted for semantic queries")
	assert.Equal(t, 1, h.semantic.callCount())
}

func TestExecute_HybridMergesBothBranches(t *testing.T) {
	h := newHarness(Config{})
	h.rel.rows = []relational.Row{{"id": 1, "name": "ThinkPad"}, {"id": 2, "name": "MacBook"}}
	h.semantic.hits = []concepts.ScoredConcept{
		scored("c1", "Developer Laptop", 0.9),
		scored("c2", "Gaming Laptop", 0.7),
	}

	result, info, err := h.svc.Execute(context.Background(), "t1",
		"show me laptops from inventory where price > 1000 similar to developer picks", QueryOpts{})
	require.NoError(t, err)

	assert.Equal(t, intent.KindHybrid, info.Kind)
	assert.ElementsMatch(t, []string{"relational", "concepts"}, info.Branches)
	assert.Equal(t, 1, h.rel.callCount())
	assert.Equal(t, 1, h.semantic.callCount())

	// Rows score 1.0 and come first (stable on ties), concepts follow by
	// similarity
	require.Equal(t, 4, result.Count)
	assert.Equal(t, ItemTypeRow, result.Items[0].Type)
	assert.Equal(t, ItemTypeRow, result.Items[1].Type)
	assert.Equal(t, "c1", result.Items[2].Concept.ID)
	assert.Equal(t, "c2", result.Items[3].Concept.ID)
}

func TestExecute_HybridDeduplicatesConcepts(t *testing.T) {
	h := newHarness(Config{})
	h.rel.rows = []relational.Row{{"id": 1}}
	h.semantic.hits = []concepts.ScoredConcept{
		scored("c1", "Laptop", 0.9),
		scored("c1", "Laptop", 0.8), // same id surfaced twice
	}

	result, _, err := h.svc.Execute(context.Background(), "t1",
		"show me laptops from inventory where price > 1000 similar to developer picks", QueryOpts{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Count, "no result id may appear twice")
}

func TestExecute_HybridDegradedWhenSemanticTimesOut(t *testing.T) {
	h := newHarness(Config{ExecuteTimeout: 50 * time.Millisecond})
	h.rel.rows = []relational.Row{{"id": 1}, {"id": 2}, {"id": 3}}
	h.semantic.delay = time.Second // over the deadline

	result, info, err := h.svc.Execute(context.Background(), "t1",
		"show me laptops from inventory where price > 1000 similar to developer picks", QueryOpts{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Count, "surviving branch rows are returned")
	assert.True(t, info.Degraded)
	assert.Contains(t, info.PartialError, "deadline_exceeded")

	entry := h.logs.last()
	require.NotNil(t, entry)
	assert.True(t, entry.Degraded)
}

func TestExecute_HybridBothBranchesFail(t *testing.T) {
	h := newHarness(Config{})
	h.rel.err = errors.New("connection refused")
	h.semantic.err = apperror.ErrVectorBackend

	_, _, err := h.svc.Execute(context.Background(), "t1",
		"show me laptops from inventory where price > 1000 similar to developer picks", QueryOpts{})
	require.Error(t, err)

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details, "also_failed")
}

func TestExecute_EmptyQuery(t *testing.T) {
	h := newHarness(Config{})

	_, _, err := h.svc.Execute(context.Background(), "t1", "   ", QueryOpts{})
	assert.True(t, errors.Is(err, apperror.ErrEmptyQuery))

	// Even failures produce exactly one log entry
	assert.Equal(t, 1, h.logs.count())
	entry := h.logs.last()
	require.NotNil(t, entry.ErrorCode)
	assert.Equal(t, "empty_query", *entry.ErrorCode)
}

func TestExecute_QuotaRefusalShortCircuits(t *testing.T) {
	h := newHarness(Config{})
	h.gate.refuse = apperror.NewQuotaExceeded("queries_per_minute", time.Now().Add(time.Minute))

	_, _, err := h.svc.Execute(context.Background(), "t1", "SELECT 1", QueryOpts{})
	assert.True(t, errors.Is(err, apperror.ErrQuotaExceeded))

	assert.Equal(t, 0, h.rel.callCount())
	assert.Equal(t, 0, h.semantic.callCount())
	assert.Equal(t, 1, h.logs.count())
}

func TestExecute_ExactlyOneLogEntryPerCall(t *testing.T) {
	h := newHarness(Config{})
	h.rel.rows = []relational.Row{{"id": 1}}

	for i := 0; i < 5; i++ {
		_, _, err := h.svc.Execute(context.Background(), "t1", "SELECT 1", QueryOpts{NoCache: true})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, h.logs.count())
}

func TestExecute_ObserverSeesSuccessPathOnly(t *testing.T) {
	h := newHarness(Config{})
	h.rel.rows = []relational.Row{{"id": 1}}

	_, _, err := h.svc.Execute(context.Background(), "t1", "SELECT 1", QueryOpts{NoCache: true})
	require.NoError(t, err)
	assert.Equal(t, 1, h.observer.count())

	h.rel.err = errors.New("boom")
	_, _, err = h.svc.Execute(context.Background(), "t1", "SELECT 1", QueryOpts{NoCache: true})
	require.Error(t, err)
	assert.Equal(t, 1, h.observer.count(), "failures are not observed")
}

func TestExecute_CacheHit(t *testing.T) {
	h := newHarness(Config{})
	h.rel.rows = []relational.Row{{"id": 1}}

	_, info, err := h.svc.Execute(context.Background(), "t1", "SELECT 1", QueryOpts{})
	require.NoError(t, err)
	assert.False(t, info.Cached)

	result, info, err := h.svc.Execute(context.Background(), "t1", "SELECT 1", QueryOpts{})
	require.NoError(t, err)
	assert.True(t, info.Cached)
	assert.Equal(t, 1, result.Count)

	// The engine ran once; counters and logs still advanced twice
	assert.Equal(t, 1, h.rel.callCount())
	assert.Equal(t, 2, h.logs.count())
	assert.Equal(t, 2, h.observer.count())
}

func TestExecute_CacheKeyIsTenantScoped(t *testing.T) {
	h := newHarness(Config{})
	h.rel.rows = []relational.Row{{"id": 1}}

	_, _, err := h.svc.Execute(context.Background(), "t1", "SELECT 1", QueryOpts{})
	require.NoError(t, err)
	_, info, err := h.svc.Execute(context.Background(), "t2", "SELECT 1", QueryOpts{})
	require.NoError(t, err)

	assert.False(t, info.Cached, "tenants must not share cache entries")
	assert.Equal(t, 2, h.rel.callCount())
}

func TestExplain_ClassifiesWithoutExecuting(t *testing.T) {
	h := newHarness(Config{})

	info, err := h.svc.Explain(context.Background(), "t1",
		"find products similar to headphones", QueryOpts{})
	require.NoError(t, err)

	assert.Equal(t, intent.KindSemantic, info.Kind)
	assert.Equal(t, []string{"concepts"}, info.Branches)
	assert.Equal(t, 0, h.rel.callCount())
	assert.Equal(t, 0, h.semantic.callCount())
}

func TestExecute_PreferredLayerHint(t *testing.T) {
	h := newHarness(Config{})
	h.semantic.hits = []concepts.ScoredConcept{scored("c1", "Widget", 0.8)}

	_, info, err := h.svc.Execute(context.Background(), "t1",
		"SELECT * FROM widgets", QueryOpts{PreferredLayer: intent.KindSemantic})
	require.NoError(t, err)

	assert.Equal(t, intent.KindSemantic, info.Kind)
	assert.Equal(t, 0, h.rel.callCount())
}
