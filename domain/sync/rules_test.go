package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptdb/gateway/pkg/relational"
)

const validRules = `
tenant: default
tables:
  - table: products
    primary_key: id
    name_column: name
    description_columns: [description, category]
    metadata_columns: [price, sku]
    writeback:
      name: name
      description: description
    conflict_policy: last_writer_wins
`

func TestParseRules_Valid(t *testing.T) {
	rules, err := ParseRules([]byte(validRules))
	require.NoError(t, err)

	assert.Equal(t, "default", rules.Tenant)
	require.Len(t, rules.Tables, 1)

	rule := rules.Tables[0]
	assert.Equal(t, "products", rule.Table)
	assert.Equal(t, "updated_at", rule.UpdatedAtColumn, "updated_at_column defaults")
	assert.Equal(t, PolicyLastWriterWins, rule.ConflictPolicy)
}

func TestParseRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing tenant", "tables:\n  - table: t\n    primary_key: id\n    name_column: n\n"},
		{"no tables", "tenant: default\ntables: []\n"},
		{"missing primary key", "tenant: d\ntables:\n  - table: t\n    name_column: n\n"},
		{"missing name column", "tenant: d\ntables:\n  - table: t\n    primary_key: id\n"},
		{"bad policy", "tenant: d\ntables:\n  - table: t\n    primary_key: id\n    name_column: n\n    conflict_policy: coin_flip\n"},
		{"bad writeback field", "tenant: d\ntables:\n  - table: t\n    primary_key: id\n    name_column: n\n    writeback:\n      strength: s\n"},
		{"duplicate table", "tenant: d\ntables:\n  - table: t\n    primary_key: id\n    name_column: n\n  - table: t\n    primary_key: id\n    name_column: n\n"},
		{"not yaml", "{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestRule_SourceKey(t *testing.T) {
	rules, err := ParseRules([]byte(validRules))
	require.NoError(t, err)
	rule := &rules.Tables[0]

	key, err := rule.SourceKey(relational.Row{"id": 42, "name": "Widget"})
	require.NoError(t, err)
	assert.Equal(t, "products:42", key)

	_, err = rule.SourceKey(relational.Row{"name": "Widget"})
	assert.Error(t, err, "missing primary key must fail")
}

func TestRule_Apply(t *testing.T) {
	rules, err := ParseRules([]byte(validRules))
	require.NoError(t, err)
	rule := &rules.Tables[0]

	name, description, metadata, err := rule.Apply(relational.Row{
		"id":          1,
		"name":        "  Headphones ",
		"description": "Noise cancelling",
		"category":    "audio",
		"price":       199,
		"sku":         "HP-1",
		"internal":    "should not leak",
	})
	require.NoError(t, err)

	assert.Equal(t, "Headphones", name)
	assert.Equal(t, "Noise cancelling audio", description)
	assert.Equal(t, map[string]any{"price": 199, "sku": "HP-1"}, metadata)
}

func TestRule_RowHash_Deterministic(t *testing.T) {
	rules, err := ParseRules([]byte(validRules))
	require.NoError(t, err)
	rule := &rules.Tables[0]

	row := relational.Row{"id": 1, "name": "A", "description": "d", "price": 9}

	h1, err := rule.RowHash(row)
	require.NoError(t, err)
	h2, err := rule.RowHash(row)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	changed := relational.Row{"id": 1, "name": "B", "description": "d", "price": 9}
	h3, err := rule.RowHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3, "mapped changes must change the hash")

	// Unmapped columns don't affect the hash
	noisy := relational.Row{"id": 1, "name": "A", "description": "d", "price": 9, "etag": "zzz"}
	h4, err := rule.RowHash(noisy)
	require.NoError(t, err)
	assert.Equal(t, h1, h4)
}

func TestSplitSourceKey(t *testing.T) {
	table, pk, ok := splitSourceKey("products:42")
	assert.True(t, ok)
	assert.Equal(t, "products", table)
	assert.Equal(t, "42", pk)

	// pk may itself contain separators
	_, pk, ok = splitSourceKey("orders:2026:001")
	assert.True(t, ok)
	assert.Equal(t, "2026:001", pk)

	for _, bad := range []string{"", "products", ":42", "products:"} {
		_, _, ok := splitSourceKey(bad)
		assert.False(t, ok, bad)
	}
}
