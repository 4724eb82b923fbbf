package router

import (
	"fmt"
	"sort"

	"github.com/conceptdb/gateway/domain/concepts"
	"github.com/conceptdb/gateway/pkg/relational"
)

// rowItems converts relational rows into result items. SQL rows carry a
// normalized score of 1.0; the engine's own ordering is preserved by the
// stable merge sort.
func rowItems(rows []relational.Row) []ResultItem {
	items := make([]ResultItem, 0, len(rows))
	for i, row := range rows {
		items = append(items, ResultItem{
			Type:     ItemTypeRow,
			Score:    1.0,
			Row:      row,
			dedupKey: rowKey(row, i),
		})
	}
	return items
}

// conceptItems converts scored concepts into result items, keeping their
// similarity scores.
func conceptItems(hits []concepts.ScoredConcept) []ResultItem {
	items := make([]ResultItem, 0, len(hits))
	for _, hit := range hits {
		items = append(items, ResultItem{
			Type:     ItemTypeConcept,
			Score:    hit.Score,
			Concept:  hit.Concept,
			dedupKey: "concept\x00" + hit.Concept.ID,
		})
	}
	return items
}

// rowKey identifies a row by its primary key when one is exposed, falling
// back to the row's position so rows without keys are never collapsed.
func rowKey(row relational.Row, position int) string {
	for _, col := range []string{"id", "uuid", "pk"} {
		if v, ok := row[col]; ok && v != nil {
			return fmt.Sprintf("row\x00%s\x00%v", col, v)
		}
	}
	return fmt.Sprintf("row\x00pos\x00%d", position)
}

// mergeItems deduplicates both branches by stable key and interleaves them by
// normalized score, descending. The sort is stable, so equal scores keep
// their branch-local ordering (SQL rows first, in engine order).
func mergeItems(sqlItems, semanticItems []ResultItem) []ResultItem {
	merged := make([]ResultItem, 0, len(sqlItems)+len(semanticItems))
	seen := make(map[string]struct{}, len(sqlItems)+len(semanticItems))

	for _, item := range append(append([]ResultItem{}, sqlItems...), semanticItems...) {
		if _, ok := seen[item.dedupKey]; ok {
			continue
		}
		seen[item.dedupKey] = struct{}{}
		merged = append(merged, item)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	return merged
}
