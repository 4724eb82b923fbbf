package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptdb/gateway/domain/concepts"
	"github.com/conceptdb/gateway/pkg/relational"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeRel serves table scans from fixture rows and records writes.
type fakeRel struct {
	mu     gosync.Mutex
	tables map[string][]relational.Row
	execs  []string
	params [][]any
}

func newFakeRel() *fakeRel {
	return &fakeRel{tables: make(map[string][]relational.Row)}
}

func (f *fakeRel) Execute(ctx context.Context, query string, params ...any) ([]relational.Row, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lower := strings.ToLower(strings.TrimSpace(query))
	if strings.HasPrefix(lower, "select") {
		for table, rows := range f.tables {
			if strings.Contains(lower, "from "+table) {
				if strings.Contains(lower, "where id =") || strings.Contains(lower, "where id=") {
					var out []relational.Row
					for _, row := range rows {
						if fmt.Sprintf("%v", row["id"]) == fmt.Sprintf("%v", params[0]) {
							out = append(out, row)
						}
					}
					return out, int64(len(out)), nil
				}
				return rows, int64(len(rows)), nil
			}
		}
		return nil, 0, nil
	}

	f.execs = append(f.execs, query)
	f.params = append(f.params, params)
	return nil, 1, nil
}

func (f *fakeRel) Transaction(ctx context.Context, fn func(ctx context.Context, tx relational.Store) error) error {
	return fn(ctx, f)
}

func (f *fakeRel) Now(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (f *fakeRel) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.execs...)
}

// fakeConcepts implements ConceptStore in memory.
type fakeConcepts struct {
	mu      gosync.Mutex
	byID    map[string]*concepts.Concept
	upserts int
	fail    error
	nextID  int
}

func newFakeConcepts() *fakeConcepts {
	return &fakeConcepts{byID: make(map[string]*concepts.Concept)}
}

func (f *fakeConcepts) SyncUpsert(ctx context.Context, tenant string, req *concepts.CreateConceptRequest) (*concepts.Concept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail != nil {
		return nil, f.fail
	}
	f.upserts++

	sourceKey, _ := req.Metadata[concepts.MetaSourceKey].(string)
	for _, c := range f.byID {
		if key, ok := c.SourceKey(); ok && key == sourceKey {
			c.Name = req.Name
			c.Description = req.Description
			c.Metadata = req.Metadata
			c.UpdatedAt = time.Now().UTC()
			return c, nil
		}
	}

	f.nextID++
	c := &concepts.Concept{
		ID:          fmt.Sprintf("c%d", f.nextID),
		TenantID:    tenant,
		Name:        req.Name,
		Description: req.Description,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	f.byID[c.ID] = c
	return c, nil
}

func (f *fakeConcepts) FindBySourceKey(ctx context.Context, tenant, sourceKey string) (*concepts.Concept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.byID {
		if key, ok := c.SourceKey(); ok && key == sourceKey {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeConcepts) Get(ctx context.Context, tenant, id string) (*concepts.Concept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeConcepts) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

// =============================================================================
// Harness
// =============================================================================

func testRules(t *testing.T, policy string) *RuleSet {
	t.Helper()
	rules, err := ParseRules([]byte(fmt.Sprintf(`
tenant: default
tables:
  - table: products
    primary_key: id
    name_column: name
    description_columns: [description]
    metadata_columns: [price]
    writeback:
      name: name
    conflict_policy: %s
`, policy)))
	require.NoError(t, err)
	return rules
}

type syncHarness struct {
	svc        *Service
	rel        *fakeRel
	store      *fakeConcepts
	checkpoint *MemoryCheckpointStore
	quarantine *MemoryQuarantineStore
}

func newSyncHarness(t *testing.T, policy string) *syncHarness {
	t.Helper()
	h := &syncHarness{
		rel:        newFakeRel(),
		store:      newFakeConcepts(),
		checkpoint: NewMemoryCheckpointStore(),
		quarantine: NewMemoryQuarantineStore(),
	}
	h.svc = NewService(testRules(t, policy), h.rel, h.store, h.checkpoint, h.quarantine, Config{
		BatchSize: 500,
	}, slog.Default())
	return h
}

func productRow(id int, name string, updatedAt time.Time) relational.Row {
	return relational.Row{
		"id":          id,
		"name":        name,
		"description": "desc of " + name,
		"price":       100 + id,
		"updated_at":  updatedAt,
	}
}

// =============================================================================
// Forward
// =============================================================================

func TestForward_AppliesChangedRows(t *testing.T) {
	h := newSyncHarness(t, PolicyLastWriterWins)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	h.rel.tables["products"] = []relational.Row{
		productRow(1, "Widget", base),
		productRow(2, "Gadget", base.Add(time.Minute)),
	}

	report, err := h.svc.RunForward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Applied)
	assert.Zero(t, report.Failed)

	// Concepts carry the source key, mapping rule, and row hash
	c, err := h.store.FindBySourceKey(context.Background(), "default", "products:1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Widget", c.Name)
	assert.Equal(t, "desc of Widget", c.Description)
	assert.Equal(t, "products", c.Metadata[concepts.MetaMappingRule])
	assert.NotEmpty(t, c.Metadata["row_hash"])

	// The checkpoint advanced to the last applied row
	cp, err := h.checkpoint.Load(context.Background(), DirectionForward)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "products:2", cp.LastID)
	assert.Equal(t, base.Add(time.Minute), cp.LastUpdatedAt)
}

func TestForward_IsIdempotent(t *testing.T) {
	h := newSyncHarness(t, PolicyLastWriterWins)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	h.rel.tables["products"] = []relational.Row{productRow(1, "Widget", base)}

	_, err := h.svc.RunForward(context.Background())
	require.NoError(t, err)
	firstUpserts := h.store.upsertCount()

	// A fresh service with a blank checkpoint re-sees the same batch; the
	// (source_key, row_hash) pair makes the second application a no-op
	svc2 := NewService(testRules(t, PolicyPreferRelational), h.rel, h.store,
		NewMemoryCheckpointStore(), h.quarantine, Config{BatchSize: 500}, slog.Default())

	report, err := svc2.RunForward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 0, report.Applied)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, firstUpserts, h.store.upsertCount(), "no writes on replay")
}

func TestForward_CheckpointSkipsAppliedWork(t *testing.T) {
	h := newSyncHarness(t, PolicyLastWriterWins)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	h.rel.tables["products"] = []relational.Row{productRow(1, "Widget", base)}

	_, err := h.svc.RunForward(context.Background())
	require.NoError(t, err)

	report, err := h.svc.RunForward(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned, "rows at or before the checkpoint are not rescanned")
}

func TestForward_ManualPolicyQuarantinesConflicts(t *testing.T) {
	h := newSyncHarness(t, PolicyManual)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	h.rel.tables["products"] = []relational.Row{productRow(1, "Widget v2", base)}

	// Pre-existing concept for the same row with a different hash: both
	// sides changed since the (zero) checkpoint
	_, err := h.store.SyncUpsert(context.Background(), "default", &concepts.CreateConceptRequest{
		Name: "Widget (edited in concept layer)",
		Metadata: concepts.JSONMap{
			concepts.MetaSourceKey: "products:1",
			"row_hash":             "stale-hash",
		},
	})
	require.NoError(t, err)
	before := h.store.upsertCount()

	report, err := h.svc.RunForward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, 0, report.Applied)

	count, err := h.quarantine.CountUnresolved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The conflicting concept was left untouched
	assert.Equal(t, before, h.store.upsertCount())
	c, _ := h.store.FindBySourceKey(context.Background(), "default", "products:1")
	assert.Equal(t, "Widget (edited in concept layer)", c.Name)
}

func TestForward_PreferConceptSkips(t *testing.T) {
	h := newSyncHarness(t, PolicyPreferConcept)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	h.rel.tables["products"] = []relational.Row{productRow(1, "Relational name", base)}

	_, err := h.store.SyncUpsert(context.Background(), "default", &concepts.CreateConceptRequest{
		Name: "Concept name",
		Metadata: concepts.JSONMap{
			concepts.MetaSourceKey: "products:1",
			"row_hash":             "stale-hash",
		},
	})
	require.NoError(t, err)

	report, err := h.svc.RunForward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Applied)

	c, _ := h.store.FindBySourceKey(context.Background(), "default", "products:1")
	assert.Equal(t, "Concept name", c.Name)
}

func TestForward_FailureStopsBatchAndHoldsCheckpoint(t *testing.T) {
	h := newSyncHarness(t, PolicyLastWriterWins)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	h.rel.tables["products"] = []relational.Row{
		productRow(1, "Widget", base),
		productRow(2, "Gadget", base.Add(time.Minute)),
	}
	h.store.fail = errors.New("vector backend down")

	report, err := h.svc.RunForward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Applied)

	// Nothing committed, so the checkpoint must not advance
	cp, err := h.checkpoint.Load(context.Background(), DirectionForward)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestForward_BackpressureHalvesBatchSize(t *testing.T) {
	h := newSyncHarness(t, PolicyLastWriterWins)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	h.rel.tables["products"] = []relational.Row{
		productRow(1, "Widget", base),
		productRow(2, "Gadget", base.Add(time.Minute)),
	}
	h.store.fail = errors.New("vector backend down")

	_, err := h.svc.RunForward(context.Background())
	require.NoError(t, err)

	status, err := h.svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, status.BatchSize, "a failing window halves the batch size")
}

// =============================================================================
// Backward
// =============================================================================

func TestBackward_WritesWhitelistedColumnsOnly(t *testing.T) {
	h := newSyncHarness(t, PolicyLastWriterWins)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	h.rel.tables["products"] = []relational.Row{productRow(1, "Widget", base)}

	// Seed via forward so the concept carries a current row hash
	_, err := h.svc.RunForward(context.Background())
	require.NoError(t, err)

	c, err := h.store.FindBySourceKey(context.Background(), "default", "products:1")
	require.NoError(t, err)
	c.Name = "Widget Pro"

	h.svc.NotifyMutation(context.Background(), c)

	report, err := h.svc.RunBackward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)

	writes := h.rel.writes()
	require.Len(t, writes, 1)
	assert.Contains(t, writes[0], "UPDATE products SET name = $1")
	assert.NotContains(t, writes[0], "description", "only whitelisted columns are written")
	assert.Equal(t, "Widget Pro", h.rel.params[0][0])
}

func TestBackward_IgnoresConceptsWithoutSourceKey(t *testing.T) {
	h := newSyncHarness(t, PolicyLastWriterWins)

	h.svc.NotifyMutation(context.Background(), &concepts.Concept{
		ID: "c9", TenantID: "default", Name: "Unlinked",
	})

	report, err := h.svc.RunBackward(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned, "concepts without a source key never enqueue")
}

func TestBackward_NeverInsertsUnlessAllowed(t *testing.T) {
	h := newSyncHarness(t, PolicyLastWriterWins)
	// No matching relational row and allow_insert defaults to false

	c, err := h.store.SyncUpsert(context.Background(), "default", &concepts.CreateConceptRequest{
		Name: "Orphan",
		Metadata: concepts.JSONMap{
			concepts.MetaSourceKey: "products:404",
		},
	})
	require.NoError(t, err)

	h.svc.NotifyMutation(context.Background(), c)
	report, err := h.svc.RunBackward(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Applied)
	assert.Empty(t, h.rel.writes())
}

func TestRunNow_RejectsUnknownDirection(t *testing.T) {
	h := newSyncHarness(t, PolicyLastWriterWins)
	_, err := h.svc.RunNow(context.Background(), "sideways")
	assert.Error(t, err)
}

func TestStatus_ReportsQueueAndQuarantine(t *testing.T) {
	h := newSyncHarness(t, PolicyLastWriterWins)

	require.NoError(t, h.quarantine.Add(context.Background(), &QuarantineItem{
		SourceKey:  "products:1",
		Direction:  DirectionForward,
		Relational: map[string]any{"id": 1},
		Concept:    map[string]any{"id": "c1"},
	}))

	status, err := h.svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.QuarantineCount)
	assert.Equal(t, 500, status.BatchSize)
}
