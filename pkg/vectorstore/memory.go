package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conceptdb/gateway/pkg/mathutil"
)

// MemoryStore is a process-local vector store doing a brute-force cosine scan.
// Used in standalone mode and tests. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]memoryEntry
}

type memoryEntry struct {
	vector  []float32
	payload map[string]any
}

// NewMemoryStore creates an empty in-memory store for vectors of dimension dim.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{
		dim:     dim,
		entries: make(map[string]memoryEntry),
	}
}

// EnsureCollection validates the requested dimension against the store's.
func (s *MemoryStore) EnsureCollection(ctx context.Context, name string, dim int, metric string) error {
	if dim != s.dim {
		return fmt.Errorf("collection %s: dimension %d does not match store dimension %d", name, dim, s.dim)
	}
	return nil
}

// Upsert writes a vector and payload under id.
func (s *MemoryStore) Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(vector) != s.dim {
		return fmt.Errorf("vector dimension %d does not match store dimension %d", len(vector), s.dim)
	}

	vcopy := make([]float32, len(vector))
	copy(vcopy, vector)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = memoryEntry{vector: vcopy, payload: payload}
	return nil
}

// Delete removes the vector stored under id. Deleting a missing id is a no-op.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Search scans all entries and returns up to k hits with cosine similarity
// >= threshold, sorted descending; ties break by id ascending for
// deterministic output.
func (s *MemoryStore) Search(ctx context.Context, vector []float32, k int, threshold float64) ([]ScoredHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("query dimension %d does not match store dimension %d", len(vector), s.dim)
	}

	s.mu.RLock()
	hits := make([]ScoredHit, 0, len(s.entries))
	for id, entry := range s.entries {
		score := mathutil.CosineSimilarity(vector, entry.vector)
		if score >= threshold {
			hits = append(hits, ScoredHit{ID: id, Score: score, Payload: entry.payload})
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len returns the number of stored vectors.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
