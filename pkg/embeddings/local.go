package embeddings

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/conceptdb/gateway/pkg/mathutil"
)

// LocalClient is a deterministic feature-hashing embedder for standalone
// deployments and tests. It is a pure function of the input text: identical
// inputs always produce identical vectors, which keeps retried embedding
// fetches idempotent.
//
// Each token (and each token bigram, for a little word-order signal) is
// hashed into one of dim buckets with a signed weight; the result is
// L2-normalized so cosine similarity behaves like a real model's output.
type LocalClient struct {
	dim int
}

// NewLocalClient creates a local embedder producing vectors of the given dimension.
func NewLocalClient(dim int) *LocalClient {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &LocalClient{dim: dim}
}

// Dimension returns the configured vector dimension.
func (c *LocalClient) Dimension() int {
	return c.dim
}

// EmbedQuery generates an embedding for a single query.
func (c *LocalClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.embed(query), nil
}

// EmbedDocuments generates embeddings for multiple documents.
func (c *LocalClient) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	out := make([][]float32, len(documents))
	for i, doc := range documents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = c.embed(doc)
	}
	return out, nil
}

func (c *LocalClient) embed(text string) []float32 {
	v := make([]float32, c.dim)
	tokens := tokenize(text)

	for i, tok := range tokens {
		addFeature(v, tok)
		if i > 0 {
			addFeature(v, tokens[i-1]+" "+tok)
		}
	}

	return mathutil.L2Normalize(v)
}

// addFeature hashes the feature into a bucket with a sign taken from the
// hash's top bit, the standard signed feature-hashing trick.
func addFeature(v []float32, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(len(v)))
	if (sum>>63)&1 == 1 {
		v[bucket] -= 1
	} else {
		v[bucket] += 1
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
