package concepts

import (
	"time"

	"github.com/uptrace/bun"
)

// JSONMap is an open key->value mapping stored as jsonb.
type JSONMap map[string]any

// Reserved metadata keys. The store treats metadata as opaque except for
// these two, which the synchronizer uses to tie a concept back to its
// relational row.
const (
	MetaSourceKey   = "source_key"
	MetaMappingRule = "mapping_rule"
)

// Relation types. The graph is not a DAG; related_to can form cycles.
const (
	RelationIsA       = "is_a"
	RelationPartOf    = "part_of"
	RelationRelatedTo = "related_to"
	RelationOpposite  = "opposite_of"
)

// ValidRelationType reports whether t is one of the four edge types.
func ValidRelationType(t string) bool {
	switch t {
	case RelationIsA, RelationPartOf, RelationRelatedTo, RelationOpposite:
		return true
	}
	return false
}

// Concept is a semantic unit. The embedding vector lives in the vector store
// keyed by the concept id; Vector is populated on reads that need it.
type Concept struct {
	bun.BaseModel `bun:"table:kb.concepts,alias:c"`

	ID          string  `bun:"id,pk" json:"id"`
	TenantID    string  `bun:"tenant_id,notnull" json:"tenant_id"`
	Name        string  `bun:"name,notnull" json:"name"`
	Description string  `bun:"description,notnull,default:''" json:"description"`
	Metadata    JSONMap `bun:"metadata,type:jsonb,notnull,default:'{}'" json:"metadata"`
	UsageCount  int64   `bun:"usage_count,notnull,default:0" json:"usage_count"`
	Strength    float64 `bun:"strength,notnull,default:0" json:"strength"`

	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:now()" json:"updated_at"`

	// Populated from the vector store, not a column
	Vector []float32 `bun:"-" json:"vector,omitempty"`
}

// SourceKey returns the synchronizer source key stored in metadata, if any.
func (c *Concept) SourceKey() (string, bool) {
	if c.Metadata == nil {
		return "", false
	}
	key, ok := c.Metadata[MetaSourceKey].(string)
	return key, ok && key != ""
}

// Relation is a directed typed edge between two concepts. At most one edge of
// a given type exists per ordered (source, target) pair.
type Relation struct {
	bun.BaseModel `bun:"table:kb.concept_relations,alias:cr"`

	SourceID  string    `bun:"source_id,pk" json:"source_id"`
	TargetID  string    `bun:"target_id,pk" json:"target_id"`
	Type      string    `bun:"type,pk" json:"type"`
	Strength  float64   `bun:"strength,notnull" json:"strength"`
	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`
}
