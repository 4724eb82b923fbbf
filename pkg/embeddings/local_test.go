package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalClient_Deterministic(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient(64)

	a, err := c.EmbedQuery(ctx, "premium customer segment")
	require.NoError(t, err)
	b, err := c.EmbedQuery(ctx, "premium customer segment")
	require.NoError(t, err)

	assert.Equal(t, a, b, "identical inputs must produce identical vectors")
}

func TestLocalClient_Dimension(t *testing.T) {
	ctx := context.Background()

	c := NewLocalClient(384)
	v, err := c.EmbedQuery(ctx, "hello world")
	require.NoError(t, err)
	assert.Len(t, v, 384)
	assert.Equal(t, 384, c.Dimension())

	// Zero or negative dimensions fall back to the default
	assert.Equal(t, DefaultDimension, NewLocalClient(0).Dimension())
}

func TestLocalClient_Normalized(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient(64)

	v, err := c.EmbedQuery(ctx, "noise cancelling headphones")
	require.NoError(t, err)

	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestLocalClient_SimilarTextsScoreHigher(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient(256)

	base, err := c.EmbedQuery(ctx, "wireless noise cancelling headphones")
	require.NoError(t, err)
	near, err := c.EmbedQuery(ctx, "noise cancelling wireless headphones review")
	require.NoError(t, err)
	far, err := c.EmbedQuery(ctx, "quarterly revenue accounting ledger")
	require.NoError(t, err)

	simNear := cosine(base, near)
	simFar := cosine(base, far)
	assert.Greater(t, simNear, simFar, "overlapping vocabulary should score higher")
}

func TestLocalClient_EmbedDocuments(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient(64)

	vectors, err := c.EmbedDocuments(ctx, []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Len(t, v, 64)
	}
}

func TestLocalClient_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewLocalClient(64)
	_, err := c.EmbedQuery(ctx, "anything")
	assert.Error(t, err)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
