package evolution

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, *MemoryStateStore) {
	t.Helper()
	store := NewMemoryStateStore()
	tracker, err := NewTracker(context.Background(), store, slog.Default())
	require.NoError(t, err)
	return tracker, store
}

// feed pushes a mixed workload through the tracker: share of semantic
// queries, their confidence, and per-layer latencies.
func feed(tracker *Tracker, total int, semantic int, semConfidence float64, sqlLat, semLat time.Duration) {
	for i := 0; i < total; i++ {
		if i < semantic {
			tracker.Observe(Observation{
				Kind:            "semantic",
				Confidence:      semConfidence,
				SemanticLatency: semLat,
			})
		} else {
			tracker.Observe(Observation{
				Kind:       "sql",
				Confidence: 0.9,
				SQLLatency: sqlLat,
			})
		}
	}
}

func TestTracker_InitialState(t *testing.T) {
	tracker, _ := newTestTracker(t)

	assert.Equal(t, 1, tracker.Phase())
	assert.Equal(t, 0.1, tracker.ConceptRatio())

	m := tracker.Snapshot()
	assert.Equal(t, "Enhancement Layer", m.PhaseName)
	assert.Equal(t, int64(0), m.TotalQueries)
}

func TestTracker_ObserveUpdatesCounters(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.Observe(Observation{Kind: "sql", Confidence: 1.0, SQLLatency: 20 * time.Millisecond})
	tracker.Observe(Observation{Kind: "semantic", Confidence: 0.8, SemanticLatency: 50 * time.Millisecond})
	tracker.Observe(Observation{Kind: "hybrid", Confidence: 0.6, SQLLatency: 30 * time.Millisecond, SemanticLatency: 40 * time.Millisecond, MergeHit: true})

	m := tracker.Snapshot()
	assert.Equal(t, int64(3), m.TotalQueries)
	assert.Equal(t, int64(1), m.SQLQueries)
	assert.Equal(t, int64(1), m.SemanticQueries)
	assert.Equal(t, int64(1), m.HybridQueries)
	assert.Equal(t, int64(1), m.MergeHits)
	assert.InDelta(t, 0.8, m.AvgConfidence, 1e-9)
	assert.InDelta(t, 1.0/3, m.SQLRatio, 1e-9)
}

func TestTracker_AdvancesWhenAllGatesPass(t *testing.T) {
	tracker, store := newTestTracker(t)

	// 1000 queries, 210 semantic at 0.75 confidence; semantic p95 300ms,
	// sql p95 200ms
	feed(tracker, 1000, 210, 0.75, 200*time.Millisecond, 300*time.Millisecond)

	decision := tracker.EvaluateAdvancement()
	assert.True(t, decision.Ready, "criteria: %v", decision.Criteria)
	assert.Equal(t, 2, decision.ToPhase)

	applied, err := tracker.Advance(context.Background())
	require.NoError(t, err)
	assert.True(t, applied.Ready)
	assert.Equal(t, 2, tracker.Phase())
	assert.Equal(t, 0.3, tracker.ConceptRatio())

	// The new state is persisted
	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, persisted.Phase)
	assert.Equal(t, 0.3, persisted.ConceptRatio)
}

func TestTracker_TooFewQueriesBlocksAdvancement(t *testing.T) {
	tracker, _ := newTestTracker(t)

	feed(tracker, 500, 200, 0.9, 100*time.Millisecond, 100*time.Millisecond)

	decision := tracker.EvaluateAdvancement()
	assert.False(t, decision.Ready)
	assert.False(t, decision.Criteria["minimum_queries"])
}

func TestTracker_LowConceptShareBlocksAdvancement(t *testing.T) {
	tracker, _ := newTestTracker(t)

	feed(tracker, 1000, 100, 0.9, 100*time.Millisecond, 100*time.Millisecond)

	decision := tracker.EvaluateAdvancement()
	assert.False(t, decision.Ready)
	assert.False(t, decision.Criteria["concept_share"])
}

func TestTracker_LowConfidenceBlocksAdvancement(t *testing.T) {
	tracker, _ := newTestTracker(t)

	feed(tracker, 1000, 300, 0.5, 100*time.Millisecond, 100*time.Millisecond)

	decision := tracker.EvaluateAdvancement()
	assert.False(t, decision.Ready)
	assert.False(t, decision.Criteria["semantic_confidence"])
}

func TestTracker_SlowSemanticLatencyBlocksAdvancement(t *testing.T) {
	tracker, _ := newTestTracker(t)

	// Semantic p95 is over 500ms absolute and over 2x the sql p95
	feed(tracker, 1000, 300, 0.9, 100*time.Millisecond, 900*time.Millisecond)

	decision := tracker.EvaluateAdvancement()
	assert.False(t, decision.Ready)
	assert.False(t, decision.Criteria["semantic_latency"])
}

func TestTracker_AbsoluteLatencyBoundAccepts(t *testing.T) {
	tracker, _ := newTestTracker(t)

	// Semantic is 4x slower than sql but still under 500ms absolute
	feed(tracker, 1000, 300, 0.9, 100*time.Millisecond, 400*time.Millisecond)

	decision := tracker.EvaluateAdvancement()
	assert.True(t, decision.Criteria["semantic_latency"])
}

func TestTracker_PhaseOnlyAdvances(t *testing.T) {
	tracker, _ := newTestTracker(t)

	_, err := tracker.Trigger(context.Background(), 1, true, MaxPhase)
	assert.Error(t, err, "advancing to the current phase must be rejected")

	// Force to phase 3, then try to trigger phase 2
	_, err = tracker.Trigger(context.Background(), 3, true, MaxPhase)
	require.NoError(t, err)
	assert.Equal(t, 3, tracker.Phase())

	_, err = tracker.Trigger(context.Background(), 2, true, MaxPhase)
	assert.Error(t, err)
	assert.Equal(t, 3, tracker.Phase())
}

func TestTracker_TriggerWithoutForceRequiresGates(t *testing.T) {
	tracker, _ := newTestTracker(t)

	decision, err := tracker.Trigger(context.Background(), 2, false, MaxPhase)
	require.NoError(t, err)
	assert.False(t, decision.Ready)
	assert.Equal(t, 1, tracker.Phase())
}

func TestTracker_TriggerRespectsPlanCap(t *testing.T) {
	tracker, _ := newTestTracker(t)

	_, err := tracker.Trigger(context.Background(), 3, true, 2)
	assert.Error(t, err, "plan cap must bound the reachable phase")

	_, err = tracker.Trigger(context.Background(), 2, true, 2)
	assert.NoError(t, err)
}

func TestTracker_RegressIsExplicit(t *testing.T) {
	tracker, _ := newTestTracker(t)

	_, err := tracker.Trigger(context.Background(), 3, true, MaxPhase)
	require.NoError(t, err)

	require.NoError(t, tracker.Regress(context.Background(), 1))
	assert.Equal(t, 1, tracker.Phase())
	assert.Equal(t, 0.1, tracker.ConceptRatio())

	// Regressing upward or to the current phase is rejected
	assert.Error(t, tracker.Regress(context.Background(), 1))
	assert.Error(t, tracker.Regress(context.Background(), 4))
}

func TestTracker_AdvancementResetsObservationFloor(t *testing.T) {
	tracker, _ := newTestTracker(t)

	feed(tracker, 1000, 210, 0.75, 200*time.Millisecond, 300*time.Millisecond)
	_, err := tracker.Advance(context.Background())
	require.NoError(t, err)

	// Immediately after advancing, the 1000-query floor applies again
	decision := tracker.EvaluateAdvancement()
	assert.False(t, decision.Criteria["minimum_queries"])
}

func TestTracker_RollingWindowDiscardsOldObservations(t *testing.T) {
	tracker, _ := newTestTracker(t)

	// Old all-sql traffic followed by newer all-semantic traffic; the
	// window only sees the last 1000
	feed(tracker, 1000, 0, 0, 100*time.Millisecond, 0)
	feed(tracker, 1000, 1000, 0.9, 0, 100*time.Millisecond)

	decision := tracker.EvaluateAdvancement()
	assert.True(t, decision.Criteria["concept_share"])
}
