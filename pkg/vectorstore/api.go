// Package vectorstore defines the vector engine interface consumed by the
// concept store, plus the shipped adapters (pgvector, in-memory).
//
// The concept store is the only writer; no other component may touch the
// backing collection directly.
package vectorstore

import (
	"context"
)

// ScoredHit is a single ANN search result.
type ScoredHit struct {
	ID      string
	Score   float64 // cosine similarity in [0,1]
	Payload map[string]any
}

// Store is the narrow surface the gateway needs from a vector engine.
// Upsert and Delete are idempotent: upserts key by id, deletes of a missing
// id succeed.
type Store interface {
	// EnsureCollection creates or validates the named collection with the
	// given dimension and distance metric.
	EnsureCollection(ctx context.Context, name string, dim int, metric string) error

	// Upsert writes a vector and its payload under id.
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) error

	// Delete removes the vector stored under id, if any.
	Delete(ctx context.Context, id string) error

	// Search returns up to k hits with similarity >= threshold, sorted by
	// similarity descending.
	Search(ctx context.Context, vector []float32, k int, threshold float64) ([]ScoredHit, error)
}

// MetricCosine is the only metric the gateway uses.
const MetricCosine = "cosine"
