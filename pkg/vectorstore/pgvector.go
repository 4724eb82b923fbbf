package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/conceptdb/gateway/pkg/pgutils"
)

// PgvectorStore keeps vectors in the kb.concept_vectors table using the
// pgvector extension. Distance is cosine; similarity is 1 - distance.
type PgvectorStore struct {
	db         bun.IDB
	collection string
	dim        int
}

// NewPgvectorStore creates a pgvector-backed store over the given collection.
func NewPgvectorStore(db bun.IDB, collection string, dim int) *PgvectorStore {
	return &PgvectorStore{
		db:         db,
		collection: collection,
		dim:        dim,
	}
}

// EnsureCollection validates the requested dimension against the configured
// one. The table itself is created by migrations.
func (s *PgvectorStore) EnsureCollection(ctx context.Context, name string, dim int, metric string) error {
	if dim != s.dim {
		return fmt.Errorf("collection %s: dimension %d does not match configured dimension %d", name, dim, s.dim)
	}
	if metric != "" && metric != MetricCosine {
		return fmt.Errorf("collection %s: unsupported metric %q", name, metric)
	}

	var count int
	err := s.db.NewRaw(
		"SELECT count(*) FROM information_schema.tables WHERE table_schema = 'kb' AND table_name = 'concept_vectors'",
	).Scan(ctx, &count)
	if err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("collection table kb.concept_vectors is missing; run migrations")
	}
	return nil
}

// Upsert writes a vector and payload under id, replacing any previous row.
func (s *PgvectorStore) Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	if len(vector) != s.dim {
		return fmt.Errorf("vector dimension %d does not match configured dimension %d", len(vector), s.dim)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if payload == nil {
		payloadJSON = []byte("{}")
	}

	_, err = s.db.NewRaw(`
		INSERT INTO kb.concept_vectors (id, collection, embedding, payload, updated_at)
		VALUES (?, ?, ?::vector, ?::jsonb, now())
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload,
			updated_at = now()`,
		id, s.collection, pgutils.FormatVector(vector), string(payloadJSON),
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	return nil
}

// Delete removes the vector stored under id. Deleting a missing id succeeds.
func (s *PgvectorStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.NewRaw(
		"DELETE FROM kb.concept_vectors WHERE id = ?", id,
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}

type pgvectorHit struct {
	ID      string  `bun:"id"`
	Score   float64 `bun:"score"`
	Payload []byte  `bun:"payload"`
}

// Search returns up to k hits with cosine similarity >= threshold, ordered by
// the ivfflat index on the embedding column.
func (s *PgvectorStore) Search(ctx context.Context, vector []float32, k int, threshold float64) ([]ScoredHit, error) {
	if len(vector) != s.dim {
		return nil, fmt.Errorf("query dimension %d does not match configured dimension %d", len(vector), s.dim)
	}
	if k <= 0 {
		k = 10
	}

	lit := pgutils.FormatVector(vector)

	var rows []pgvectorHit
	err := s.db.NewRaw(`
		SELECT id, 1 - (embedding <=> ?::vector) AS score, payload
		FROM kb.concept_vectors
		WHERE collection = ?
		  AND 1 - (embedding <=> ?::vector) >= ?
		ORDER BY embedding <=> ?::vector
		LIMIT ?`,
		lit, s.collection, lit, threshold, lit, k,
	).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]ScoredHit, 0, len(rows))
	for _, row := range rows {
		hit := ScoredHit{ID: row.ID, Score: row.Score}
		if len(row.Payload) > 0 {
			var payload map[string]any
			if err := json.Unmarshal(row.Payload, &payload); err == nil {
				hit.Payload = payload
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
