package concepts

// =============================================================================
// Request DTOs
// =============================================================================

// CreateConceptRequest is the request body for creating a concept.
// Vector is optional; when absent the store computes it from name and
// description via the embedding provider.
type CreateConceptRequest struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Metadata    JSONMap   `json:"metadata,omitempty"`
	Vector      []float32 `json:"vector,omitempty"`
}

// UpdateConceptRequest is a patch; nil fields are left untouched.
// Patching Name or Description triggers re-embedding; patching Metadata
// does not.
type UpdateConceptRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Metadata    *JSONMap `json:"metadata,omitempty"`
}

// SearchRequest searches by a raw vector when one is set, otherwise by text.
type SearchRequest struct {
	Text      string    `json:"text,omitempty"`
	Vector    []float32 `json:"vector,omitempty"`
	K         int       `json:"k,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
}

// AddRelationRequest creates a typed edge between two concepts.
type AddRelationRequest struct {
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

// RemoveRelationRequest removes a typed edge.
type RemoveRelationRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Type     string `json:"type"`
}

// MergeRequest merges the loser concept into the winner.
type MergeRequest struct {
	LoserID  string `json:"loser_id"`
	WinnerID string `json:"winner_id"`
}

// =============================================================================
// Response DTOs
// =============================================================================

// ScoredConcept is a semantic search hit.
type ScoredConcept struct {
	Concept *Concept `json:"concept"`
	Score   float64  `json:"score"`
}

// Subgraph is the result of a graph traversal: the visited nodes and edges.
type Subgraph struct {
	Nodes []*Concept  `json:"nodes"`
	Edges []*Relation `json:"edges"`
}

// ListResponse is a paginated concept listing.
type ListResponse struct {
	Concepts []*Concept `json:"concepts"`
	Total    int        `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}
