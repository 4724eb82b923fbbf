package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conceptdb/gateway/pkg/apperror"
	"github.com/conceptdb/gateway/pkg/logger"
	"github.com/conceptdb/gateway/pkg/mathutil"
)

// Tracker aggregates routing observations and advances the system through
// the four phases. It is write-serialized: a single mutex guards all state,
// Observe takes it briefly, and readers get value snapshots (never a pointer
// into tracker state).
type Tracker struct {
	store StateStore
	log   *slog.Logger

	mu sync.RWMutex

	phase        int
	conceptRatio float64

	// Cumulative counters
	total     int64
	perKind   map[string]int64
	mergeHits int64

	confidenceSum float64

	// Rolling window of the last windowSize observations
	window []Observation
	head   int
	filled bool

	sinceAdvancement int64
	lastAdvancedAt   *time.Time
}

// NewTracker creates a tracker and loads (or initializes) the persisted state.
func NewTracker(ctx context.Context, store StateStore, log *slog.Logger) (*Tracker, error) {
	state, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	return &Tracker{
		store:        store,
		log:          log.With(logger.Scope("evolution")),
		phase:        state.Phase,
		conceptRatio: state.ConceptRatio,
		perKind:      make(map[string]int64),
		window:       make([]Observation, windowSize),
	}, nil
}

// ConceptRatio returns the current routing bias. Read by the intent analyzer
// on every decision; a snapshot at most one update stale is acceptable.
func (t *Tracker) ConceptRatio() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conceptRatio
}

// Phase returns the current phase.
func (t *Tracker) Phase() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase
}

// Observe records one successfully routed query.
func (t *Tracker) Observe(obs Observation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	t.sinceAdvancement++
	t.perKind[obs.Kind]++
	t.confidenceSum += obs.Confidence
	if obs.MergeHit {
		t.mergeHits++
	}

	t.window[t.head] = obs
	t.head = (t.head + 1) % windowSize
	if t.head == 0 {
		t.filled = true
	}
}

// Snapshot returns the current metrics.
func (t *Tracker) Snapshot() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := Metrics{
		Phase:                   t.phase,
		PhaseName:               PhaseName(t.phase),
		ConceptRatio:            t.conceptRatio,
		TotalQueries:            t.total,
		SQLQueries:              t.perKind["sql"],
		SemanticQueries:         t.perKind["semantic"],
		HybridQueries:           t.perKind["hybrid"],
		MergeHits:               t.mergeHits,
		QueriesSinceAdvancement: t.sinceAdvancement,
		LastAdvancedAt:          t.lastAdvancedAt,
	}

	if t.total > 0 {
		m.SQLRatio = float64(m.SQLQueries) / float64(t.total)
		m.SemanticRatio = float64(m.SemanticQueries) / float64(t.total)
		m.HybridRatio = float64(m.HybridQueries) / float64(t.total)
		m.AvgConfidence = t.confidenceSum / float64(t.total)
	}

	sqlLat, semLat := t.windowLatenciesLocked()
	m.P95SQLMs = mathutil.Percentile(sqlLat, 95)
	m.P95SemanticMs = mathutil.Percentile(semLat, 95)

	return m
}

// EvaluateAdvancement checks the gates for moving to the next phase.
func (t *Tracker) EvaluateAdvancement() Decision {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.evaluateLocked()
}

func (t *Tracker) evaluateLocked() Decision {
	decision := Decision{
		FromPhase: t.phase,
		Criteria:  make(map[string]bool),
	}

	if t.phase >= MaxPhase {
		decision.Reason = "already at the final phase"
		return decision
	}
	next := t.phase + 1

	size, conceptShare, avgSemConfidence, sqlLat, semLat := t.windowStatsLocked()

	decision.Criteria["minimum_queries"] = t.sinceAdvancement >= minObservations
	decision.Criteria["concept_share"] = conceptShare >= advanceTargets[next]
	decision.Criteria["semantic_confidence"] = avgSemConfidence >= minSemanticConfidence

	p95SQL := mathutil.Percentile(sqlLat, 95)
	p95Sem := mathutil.Percentile(semLat, 95)
	latencyOK := p95Sem <= float64(semanticLatencyAbsolute.Milliseconds())
	if !latencyOK && p95SQL > 0 {
		latencyOK = p95Sem <= semanticLatencyFactor*p95SQL
	}
	decision.Criteria["semantic_latency"] = latencyOK

	ready := size > 0
	for _, ok := range decision.Criteria {
		ready = ready && ok
	}

	decision.Ready = ready
	if ready {
		decision.ToPhase = next
	} else {
		decision.Reason = "one or more advancement gates not met"
	}
	return decision
}

// Advance moves to the next phase when the gates pass, persists the state,
// and publishes the new concept ratio. Returns the decision either way.
func (t *Tracker) Advance(ctx context.Context) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	decision := t.evaluateLocked()
	if !decision.Ready {
		return decision, nil
	}

	return decision, t.advanceToLocked(ctx, decision.ToPhase)
}

// Trigger manually advances toward targetPhase. Without force, every step
// must pass the evaluator's gates. maxPhase caps the reachable phase
// (tenant plan limit); pass MaxPhase for no cap. Regression is rejected.
func (t *Tracker) Trigger(ctx context.Context, targetPhase int, force bool, maxPhase int) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if targetPhase == 0 {
		targetPhase = t.phase + 1
	}
	if targetPhase > MaxPhase || targetPhase < MinPhase {
		return Decision{}, apperror.NewBadRequest("target phase must be between 1 and 4")
	}
	if maxPhase > 0 && targetPhase > maxPhase {
		return Decision{}, apperror.ErrQuotaExceeded.
			WithMessage(fmt.Sprintf("plan allows evolution up to phase %d", maxPhase))
	}
	if targetPhase <= t.phase {
		return Decision{}, apperror.NewBadRequest("phase can only advance; use the regress endpoint for rollbacks")
	}

	if force {
		decision := Decision{Ready: true, FromPhase: t.phase, ToPhase: targetPhase,
			Criteria: map[string]bool{"forced": true}}
		return decision, t.advanceToLocked(ctx, targetPhase)
	}

	if targetPhase != t.phase+1 {
		return Decision{}, apperror.NewBadRequest("without force, phases advance one step at a time")
	}

	decision := t.evaluateLocked()
	if !decision.Ready {
		return decision, nil
	}
	return decision, t.advanceToLocked(ctx, targetPhase)
}

// Regress is the explicit operator rollback; it is never automatic.
func (t *Tracker) Regress(ctx context.Context, targetPhase int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if targetPhase < MinPhase || targetPhase >= t.phase {
		return apperror.NewBadRequest("regress target must be a lower phase")
	}

	t.log.Warn("operator phase regression",
		slog.Int("from", t.phase),
		slog.Int("to", targetPhase))

	t.phase = targetPhase
	t.conceptRatio = ConceptRatioFor(targetPhase)
	t.sinceAdvancement = 0
	return t.persistLocked(ctx)
}

func (t *Tracker) advanceToLocked(ctx context.Context, phase int) error {
	now := time.Now().UTC()

	t.log.Info("advancing evolution phase",
		slog.Int("from", t.phase),
		slog.Int("to", phase),
		slog.String("phase_name", PhaseName(phase)))

	t.phase = phase
	t.conceptRatio = ConceptRatioFor(phase)
	t.sinceAdvancement = 0
	t.lastAdvancedAt = &now

	return t.persistLocked(ctx)
}

func (t *Tracker) persistLocked(ctx context.Context) error {
	state := &State{
		Phase:        t.phase,
		ConceptRatio: t.conceptRatio,
		Counters: map[string]any{
			"total_queries":    t.total,
			"sql_queries":      t.perKind["sql"],
			"semantic_queries": t.perKind["semantic"],
			"hybrid_queries":   t.perKind["hybrid"],
			"merge_hits":       t.mergeHits,
		},
	}
	if err := t.store.Save(ctx, state); err != nil {
		t.log.Error("failed to persist evolution state", logger.Error(err))
		return err
	}
	return nil
}

// windowStatsLocked derives the advancement inputs from the rolling window.
func (t *Tracker) windowStatsLocked() (size int, conceptShare, avgSemConfidence float64, sqlLatMs, semLatMs []float64) {
	entries := t.windowEntriesLocked()
	size = len(entries)
	if size == 0 {
		return 0, 0, 0, nil, nil
	}

	var conceptCount int
	var semConfidenceSum float64
	var semCount int

	for _, obs := range entries {
		if obs.Kind == "semantic" {
			conceptCount++
			semConfidenceSum += obs.Confidence
			semCount++
		}
		if obs.SQLLatency > 0 {
			sqlLatMs = append(sqlLatMs, float64(obs.SQLLatency.Milliseconds()))
		}
		if obs.SemanticLatency > 0 {
			semLatMs = append(semLatMs, float64(obs.SemanticLatency.Milliseconds()))
		}
	}

	conceptShare = float64(conceptCount) / float64(size)
	if semCount > 0 {
		avgSemConfidence = semConfidenceSum / float64(semCount)
	}
	return size, conceptShare, avgSemConfidence, sqlLatMs, semLatMs
}

func (t *Tracker) windowLatenciesLocked() (sqlLatMs, semLatMs []float64) {
	for _, obs := range t.windowEntriesLocked() {
		if obs.SQLLatency > 0 {
			sqlLatMs = append(sqlLatMs, float64(obs.SQLLatency.Milliseconds()))
		}
		if obs.SemanticLatency > 0 {
			semLatMs = append(semLatMs, float64(obs.SemanticLatency.Milliseconds()))
		}
	}
	return sqlLatMs, semLatMs
}

func (t *Tracker) windowEntriesLocked() []Observation {
	if t.filled {
		return t.window
	}
	return t.window[:t.head]
}
