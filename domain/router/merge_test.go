package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptdb/gateway/domain/concepts"
	"github.com/conceptdb/gateway/pkg/relational"
)

func TestMergeItems_OrderAndDedup(t *testing.T) {
	sqlItems := rowItems([]relational.Row{
		{"id": 1, "name": "first"},
		{"id": 2, "name": "second"},
	})
	semItems := conceptItems([]concepts.ScoredConcept{
		{Concept: &concepts.Concept{ID: "c1"}, Score: 0.95},
		{Concept: &concepts.Concept{ID: "c2"}, Score: 0.60},
		{Concept: &concepts.Concept{ID: "c1"}, Score: 0.50}, // duplicate id
	})

	merged := mergeItems(sqlItems, semItems)

	require.Len(t, merged, 4)
	// Rows carry score 1.0 and keep engine order on the tie
	assert.Equal(t, 1, merged[0].Row["id"])
	assert.Equal(t, 2, merged[1].Row["id"])
	assert.Equal(t, "c1", merged[2].Concept.ID)
	assert.Equal(t, "c2", merged[3].Concept.ID)
}

func TestMergeItems_BoundedByBranchSizes(t *testing.T) {
	sqlItems := rowItems([]relational.Row{{"id": 1}, {"id": 2}, {"id": 3}})
	semItems := conceptItems([]concepts.ScoredConcept{
		{Concept: &concepts.Concept{ID: "c1"}, Score: 0.9},
	})

	merged := mergeItems(sqlItems, semItems)
	assert.LessOrEqual(t, len(merged), len(sqlItems)+len(semItems))
}

func TestRowKey_FallsBackToPosition(t *testing.T) {
	// Rows without a recognizable key must never collapse
	a := rowItems([]relational.Row{{"name": "x"}, {"name": "x"}})
	merged := mergeItems(a, nil)
	assert.Len(t, merged, 2)
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "select * from t", normalizeQuery("  SELECT   *\tFROM t "))
	assert.Equal(t, normalizeQuery("SELECT 1"), normalizeQuery("select  1"))
}

func TestFingerprint(t *testing.T) {
	base := fingerprint("t1", "SELECT 1", QueryOpts{})

	assert.Equal(t, base, fingerprint("t1", "select   1", QueryOpts{}),
		"normalization must collapse whitespace and case")
	assert.NotEqual(t, base, fingerprint("t2", "SELECT 1", QueryOpts{}),
		"fingerprints are tenant scoped")
	assert.NotEqual(t, base, fingerprint("t1", "SELECT 1", QueryOpts{K: 5}),
		"opts participate in the fingerprint")
	assert.NotEqual(t, base, fingerprint("t1", "SELECT 1", QueryOpts{Params: []any{1}}),
		"params participate in the fingerprint")
}
