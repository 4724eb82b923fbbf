package evolution

import (
	"time"

	"github.com/uptrace/bun"
)

// Phases. Each phase shifts the routing bias further toward the concept layer.
const (
	PhaseEnhancement = 1 // 10% conceptualization
	PhaseHybrid      = 2 // 30% conceptualization
	PhaseConceptual  = 3 // 70% conceptualization
	PhasePure        = 4 // 100% conceptualization

	MinPhase = PhaseEnhancement
	MaxPhase = PhasePure
)

// phaseNames are the operator-facing phase labels.
var phaseNames = map[int]string{
	PhaseEnhancement: "Enhancement Layer",
	PhaseHybrid:      "Hybrid Database",
	PhaseConceptual:  "Concept-First",
	PhasePure:        "Pure Concept",
}

// PhaseName returns the label for a phase.
func PhaseName(phase int) string {
	return phaseNames[phase]
}

// conceptRatios is the routing bias published at each phase.
var conceptRatios = map[int]float64{
	PhaseEnhancement: 0.1,
	PhaseHybrid:      0.3,
	PhaseConceptual:  0.7,
	PhasePure:        1.0,
}

// ConceptRatioFor returns the target concept-path share for a phase.
func ConceptRatioFor(phase int) float64 {
	return conceptRatios[phase]
}

// advanceTargets is the minimum concept-query share required to enter a phase.
var advanceTargets = map[int]float64{
	PhaseHybrid:     0.20,
	PhaseConceptual: 0.50,
	PhasePure:       0.80,
}

// Advancement gate constants.
const (
	// windowSize is the rolling observation window; older entries are discarded
	windowSize = 1000

	// minObservations must accumulate since the last advancement
	minObservations = 1000

	// minSemanticConfidence is the average confidence successful semantic
	// queries must reach
	minSemanticConfidence = 0.70

	// semanticLatencyFactor allows semantic p95 up to this multiple of sql p95
	semanticLatencyFactor = 2.0

	// semanticLatencyAbsolute accepts semantic p95 under this bound regardless
	semanticLatencyAbsolute = 500 * time.Millisecond
)

// State is the persisted singleton. It is created at first boot and never
// destroyed; phase only advances except through the operator regress endpoint.
type State struct {
	bun.BaseModel `bun:"table:kb.evolution_state,alias:es"`

	ID           int16          `bun:"id,pk" json:"-"`
	Phase        int            `bun:"phase,notnull" json:"phase"`
	ConceptRatio float64        `bun:"concept_ratio,notnull" json:"concept_ratio"`
	Counters     map[string]any `bun:"counters,type:jsonb,notnull,default:'{}'" json:"counters"`
	UpdatedAt    time.Time      `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// Observation is one routed query's contribution to the tracker.
type Observation struct {
	Kind            string // "sql", "semantic", or "hybrid"
	Confidence      float64
	SQLLatency      time.Duration
	SemanticLatency time.Duration
	MergeHit        bool // hybrid query where both branches contributed
}

// Metrics is the tracker's public snapshot.
type Metrics struct {
	Phase        int     `json:"phase"`
	PhaseName    string  `json:"phase_name"`
	ConceptRatio float64 `json:"concept_ratio"`

	TotalQueries    int64   `json:"total_queries"`
	SQLQueries      int64   `json:"sql_queries"`
	SemanticQueries int64   `json:"semantic_queries"`
	HybridQueries   int64   `json:"hybrid_queries"`
	MergeHits       int64   `json:"merge_hits"`

	SQLRatio      float64 `json:"sql_ratio"`
	SemanticRatio float64 `json:"semantic_ratio"`
	HybridRatio   float64 `json:"hybrid_ratio"`

	AvgConfidence float64 `json:"avg_confidence"`
	P95SQLMs      float64 `json:"p95_sql_ms"`
	P95SemanticMs float64 `json:"p95_semantic_ms"`

	QueriesSinceAdvancement int64      `json:"queries_since_advancement"`
	LastAdvancedAt          *time.Time `json:"last_advanced_at,omitempty"`
}

// Decision is the outcome of an advancement evaluation.
type Decision struct {
	Ready     bool            `json:"ready"`
	FromPhase int             `json:"from_phase"`
	ToPhase   int             `json:"to_phase,omitempty"`
	Criteria  map[string]bool `json:"criteria"`
	Reason    string          `json:"reason,omitempty"`
}
