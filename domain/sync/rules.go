package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conceptdb/gateway/pkg/relational"
)

// Rule maps one relational table into the concept layer and back.
type Rule struct {
	// Table is the relational table name; also the rule's identity.
	Table string `yaml:"table"`

	// PrimaryKey is the column forming the source key.
	PrimaryKey string `yaml:"primary_key"`

	// NameColumn feeds the concept name.
	NameColumn string `yaml:"name_column"`

	// DescriptionColumns are concatenated into the concept description.
	DescriptionColumns []string `yaml:"description_columns,omitempty"`

	// MetadataColumns are copied into concept metadata verbatim.
	MetadataColumns []string `yaml:"metadata_columns,omitempty"`

	// UpdatedAtColumn orders change detection; defaults to "updated_at".
	UpdatedAtColumn string `yaml:"updated_at_column,omitempty"`

	// Writeback whitelists backward writes: concept field -> column.
	// Supported fields: "name", "description".
	Writeback map[string]string `yaml:"writeback,omitempty"`

	// AllowInsert lets backward sync create missing rows.
	AllowInsert bool `yaml:"allow_insert,omitempty"`

	// ConflictPolicy resolves both-sides-changed items; defaults to
	// last_writer_wins.
	ConflictPolicy string `yaml:"conflict_policy,omitempty"`
}

// RuleSet is the parsed mapping-rules file.
type RuleSet struct {
	// Tenant owns the synchronized concepts.
	Tenant string `yaml:"tenant"`

	Tables []Rule `yaml:"tables"`
}

// LoadRules reads and validates the YAML mapping-rules file.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses and validates mapping rules.
func ParseRules(data []byte) (*RuleSet, error) {
	var rules RuleSet
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse mapping rules: %w", err)
	}

	if rules.Tenant == "" {
		return nil, fmt.Errorf("mapping rules: tenant is required")
	}
	if len(rules.Tables) == 0 {
		return nil, fmt.Errorf("mapping rules: at least one table is required")
	}

	seen := make(map[string]struct{})
	for i := range rules.Tables {
		rule := &rules.Tables[i]
		if rule.Table == "" {
			return nil, fmt.Errorf("mapping rules: table %d has no name", i)
		}
		if _, dup := seen[rule.Table]; dup {
			return nil, fmt.Errorf("mapping rules: duplicate table %q", rule.Table)
		}
		seen[rule.Table] = struct{}{}

		if rule.PrimaryKey == "" {
			return nil, fmt.Errorf("mapping rules: table %q has no primary_key", rule.Table)
		}
		if rule.NameColumn == "" {
			return nil, fmt.Errorf("mapping rules: table %q has no name_column", rule.Table)
		}
		if rule.UpdatedAtColumn == "" {
			rule.UpdatedAtColumn = "updated_at"
		}
		if rule.ConflictPolicy == "" {
			rule.ConflictPolicy = PolicyLastWriterWins
		}
		if !ValidPolicy(rule.ConflictPolicy) {
			return nil, fmt.Errorf("mapping rules: table %q has unknown conflict_policy %q", rule.Table, rule.ConflictPolicy)
		}
		for field := range rule.Writeback {
			if field != "name" && field != "description" {
				return nil, fmt.Errorf("mapping rules: table %q writeback field %q is not supported", rule.Table, field)
			}
		}
	}

	return &rules, nil
}

// RuleFor returns the rule for a table.
func (rs *RuleSet) RuleFor(table string) (*Rule, bool) {
	for i := range rs.Tables {
		if rs.Tables[i].Table == table {
			return &rs.Tables[i], true
		}
	}
	return nil, false
}

// SourceKey derives the deterministic (table, primary key) identity stored in
// concept metadata.
func (r *Rule) SourceKey(row relational.Row) (string, error) {
	pk, ok := row[r.PrimaryKey]
	if !ok || pk == nil {
		return "", fmt.Errorf("row from %q is missing primary key %q", r.Table, r.PrimaryKey)
	}
	return fmt.Sprintf("%s:%v", r.Table, pk), nil
}

// mappedFields is the canonical projection hashed for idempotence.
type mappedFields struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

// Apply projects a relational row into concept fields per the rule.
func (r *Rule) Apply(row relational.Row) (name, description string, metadata map[string]any, err error) {
	nameVal, ok := row[r.NameColumn]
	if !ok || nameVal == nil {
		return "", "", nil, fmt.Errorf("row from %q is missing name column %q", r.Table, r.NameColumn)
	}
	name = strings.TrimSpace(fmt.Sprintf("%v", nameVal))

	var parts []string
	for _, col := range r.DescriptionColumns {
		if v, ok := row[col]; ok && v != nil {
			if s := strings.TrimSpace(fmt.Sprintf("%v", v)); s != "" {
				parts = append(parts, s)
			}
		}
	}
	description = strings.Join(parts, " ")

	metadata = make(map[string]any, len(r.MetadataColumns))
	for _, col := range r.MetadataColumns {
		if v, ok := row[col]; ok {
			metadata[col] = v
		}
	}
	return name, description, metadata, nil
}

// RowHash fingerprints the mapped projection of a row. Re-seeing the same
// (source key, row hash) is a no-op, which makes forward sync idempotent.
func (r *Rule) RowHash(row relational.Row) (string, error) {
	name, description, metadata, err := r.Apply(row)
	if err != nil {
		return "", err
	}

	// Map keys marshal in sorted order, so the hash is canonical
	payload, err := json.Marshal(mappedFields{
		Name:        name,
		Description: description,
		Metadata:    metadata,
	})
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
