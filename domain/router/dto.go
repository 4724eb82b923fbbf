package router

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/conceptdb/gateway/domain/concepts"
	"github.com/conceptdb/gateway/pkg/relational"
)

// Result item types.
const (
	ItemTypeRow     = "row"
	ItemTypeConcept = "concept"
)

// QueryRequest is the body for POST /api/query.
type QueryRequest struct {
	Query string    `json:"query"`
	Opts  QueryOpts `json:"opts,omitempty"`
}

// QueryOpts tune a single query execution.
type QueryOpts struct {
	// PreferredLayer short-circuits intent classification ("sql",
	// "semantic", "hybrid")
	PreferredLayer string `json:"preferred_layer,omitempty"`

	// Params are positional parameters for the SQL branch
	Params []any `json:"params,omitempty"`

	// K caps semantic results; 0 uses the router default
	K int `json:"k,omitempty"`

	// Threshold is the semantic similarity floor; 0 uses the router default
	Threshold float64 `json:"threshold,omitempty"`

	// NoCache bypasses the result cache for this call
	NoCache bool `json:"no_cache,omitempty"`
}

// ResultItem is one merged result entry: a relational row or a scored concept.
type ResultItem struct {
	Type    string            `json:"type"`
	Score   float64           `json:"score"`
	Row     relational.Row    `json:"row,omitempty"`
	Concept *concepts.Concept `json:"concept,omitempty"`

	// dedupKey identifies the item across branches
	dedupKey string
}

// Result is the merged result set.
type Result struct {
	Items []ResultItem `json:"items"`
	Count int          `json:"count"`
}

// RouteInfo is the router's per-call decision record.
type RouteInfo struct {
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`

	Branches []string `json:"branches"`
	Cached   bool     `json:"cached"`
	Degraded bool     `json:"degraded,omitempty"`

	// PartialError describes the failed branch of a degraded hybrid query
	PartialError string `json:"partial_error,omitempty"`

	SQLLatencyMs      int64 `json:"sql_latency_ms,omitempty"`
	SemanticLatencyMs int64 `json:"semantic_latency_ms,omitempty"`
	LatencyMs         int64 `json:"latency_ms"`
}

// QueryResponse is the wire shape for a routed query.
type QueryResponse struct {
	Result    *Result   `json:"result"`
	RouteInfo RouteInfo `json:"route_info"`
}

// QueryLog is the persisted per-query record. Exactly one row is written per
// Execute call, before the reply is returned, for every outcome including
// errors.
type QueryLog struct {
	bun.BaseModel `bun:"table:kb.query_logs,alias:ql"`

	ID          string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TenantID    string    `bun:"tenant_id,notnull" json:"tenant_id"`
	QueryText   string    `bun:"query_text,notnull" json:"query_text"`
	Kind        string    `bun:"kind,notnull" json:"kind"`
	Confidence  float64   `bun:"confidence,notnull" json:"confidence"`
	Cached      bool      `bun:"cached,notnull,default:false" json:"cached"`
	Degraded    bool      `bun:"degraded,notnull,default:false" json:"degraded"`
	SQLMs       *int64    `bun:"sql_ms" json:"sql_ms,omitempty"`
	SemanticMs  *int64    `bun:"semantic_ms" json:"semantic_ms,omitempty"`
	ResultCount int       `bun:"result_count,notnull,default:0" json:"result_count"`
	ErrorCode   *string   `bun:"error_code" json:"error_code,omitempty"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`
}
