package intent

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conceptdb/gateway/pkg/apperror"
	"github.com/conceptdb/gateway/pkg/llm"
)

type staticRatio float64

func (r staticRatio) ConceptRatio() float64 { return float64(r) }

type fakeProvider struct {
	reply string
	err   error
	delay time.Duration
}

func (p *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.delay):
		}
	}
	return p.reply, p.err
}

func (p *fakeProvider) IsConfigured() bool { return true }

func newAnalyzer(ratio RatioProvider, provider llm.Provider) *Analyzer {
	return NewAnalyzer(ratio, provider, Config{}, slog.Default())
}

func TestAnalyze_EmptyQuery(t *testing.T) {
	a := newAnalyzer(staticRatio(0.1), nil)

	_, err := a.Analyze(context.Background(), "   \t ", Hints{})
	assert.True(t, errors.Is(err, apperror.ErrEmptyQuery))
}

func TestAnalyze_StrongSQLPrefix(t *testing.T) {
	a := newAnalyzer(staticRatio(0.1), nil)

	queries := []string{
		"SELECT name FROM products WHERE price < 100",
		"  insert into orders values (1)",
		"EXPLAIN SELECT * FROM t",
		"with cte as (select 1) select * from cte",
	}
	for _, q := range queries {
		decision, err := a.Analyze(context.Background(), q, Hints{})
		require.NoError(t, err, q)
		assert.Equal(t, KindSQL, decision.Kind, q)
		assert.Equal(t, 1.0, decision.Confidence, q)
	}
}

func TestAnalyze_Semantic(t *testing.T) {
	a := newAnalyzer(staticRatio(0.1), nil)

	decision, err := a.Analyze(context.Background(),
		"find products similar to noise-cancelling headphones", Hints{})
	require.NoError(t, err)
	assert.Equal(t, KindSemantic, decision.Kind)
	assert.GreaterOrEqual(t, decision.Confidence, 0.7)
}

func TestAnalyze_SQLTokensWithoutPrefix(t *testing.T) {
	a := newAnalyzer(staticRatio(0), nil)

	decision, err := a.Analyze(context.Background(),
		"price < 100 from products where stock > 0 order by price limit 5", Hints{})
	require.NoError(t, err)
	assert.Equal(t, KindSQL, decision.Kind)
	assert.Greater(t, decision.Confidence, 0.5)
}

func TestAnalyze_Hybrid(t *testing.T) {
	a := newAnalyzer(staticRatio(0), nil)

	decision, err := a.Analyze(context.Background(),
		"show me laptops from inventory where price > 1000 similar to developer picks", Hints{})
	require.NoError(t, err)
	assert.Equal(t, KindHybrid, decision.Kind)
	assert.GreaterOrEqual(t, decision.Confidence, 0.5)
}

func TestAnalyze_LikeLiteralIsNotSemantic(t *testing.T) {
	a := newAnalyzer(staticRatio(0), nil)

	// LIKE followed by a quoted pattern reads as SQL, not similarity intent
	decision, err := a.Analyze(context.Background(),
		"name like 'Acme%' from customers where active = true", Hints{})
	require.NoError(t, err)
	assert.Equal(t, KindSQL, decision.Kind)
}

func TestAnalyze_EvolutionBiasShiftsTowardSemantic(t *testing.T) {
	query := "show me laptops from inventory where price > 1000 similar to developer picks, find more about gaming"

	low := newAnalyzer(staticRatio(0.1), nil)
	lowDecision, err := low.Analyze(context.Background(), query, Hints{})
	require.NoError(t, err)

	high := newAnalyzer(staticRatio(1.0), nil)
	highDecision, err := high.Analyze(context.Background(), query, Hints{})
	require.NoError(t, err)

	// At phase 4's ratio the same query lands on the semantic path
	assert.Equal(t, KindHybrid, lowDecision.Kind)
	assert.Equal(t, KindSemantic, highDecision.Kind)
}

func TestAnalyze_PreferredLayerHint(t *testing.T) {
	a := newAnalyzer(staticRatio(0.1), nil)

	decision, err := a.Analyze(context.Background(),
		"SELECT * FROM t", Hints{PreferredLayer: KindSemantic})
	require.NoError(t, err)
	assert.Equal(t, KindSemantic, decision.Kind)
	assert.Equal(t, 1.0, decision.Confidence)
	assert.Equal(t, SourceHint, decision.Source)
}

func TestAnalyze_LLMOverridesWithMargin(t *testing.T) {
	provider := &fakeProvider{reply: `{"kind":"semantic","confidence":0.99,"reason":"similarity lookup"}`}
	a := newAnalyzer(staticRatio(0), provider)

	// Deterministic result here is hybrid with modest confidence; the LLM
	// clears the margin and takes over
	decision, err := a.Analyze(context.Background(),
		"show me laptops from inventory where price > 1000 similar to developer picks", Hints{})
	require.NoError(t, err)
	assert.Equal(t, SourceLLM, decision.Source)
	assert.Equal(t, KindSemantic, decision.Kind)
}

func TestAnalyze_LLMWithinMarginIsIgnored(t *testing.T) {
	provider := &fakeProvider{reply: `{"kind":"semantic","confidence":0.55,"reason":"weak"}`}
	a := newAnalyzer(staticRatio(0), provider)

	decision, err := a.Analyze(context.Background(),
		"show me laptops from inventory where price > 1000 similar to developer picks", Hints{})
	require.NoError(t, err)
	assert.Equal(t, SourceDeterministic, decision.Source)
}

func TestAnalyze_LLMNeverOverridesStrongSQL(t *testing.T) {
	provider := &fakeProvider{reply: `{"kind":"semantic","confidence":1.0,"reason":"nope"}`}
	a := newAnalyzer(staticRatio(0), provider)

	decision, err := a.Analyze(context.Background(), "SELECT 1", Hints{})
	require.NoError(t, err)
	assert.Equal(t, KindSQL, decision.Kind)
	assert.Equal(t, SourceDeterministic, decision.Source)
}

func TestAnalyze_LLMTimeoutDegradesSilently(t *testing.T) {
	provider := &fakeProvider{
		reply: `{"kind":"semantic","confidence":0.99,"reason":"late"}`,
		delay: 2 * time.Second,
	}
	a := NewAnalyzer(staticRatio(0), provider, Config{LLMTimeout: 20 * time.Millisecond}, slog.Default())

	// A hybrid query leaves room for the margin, so the LLM reply is awaited
	start := time.Now()
	decision, err := a.Analyze(context.Background(),
		"show me laptops from inventory where price > 1000 similar to developer picks", Hints{})
	require.NoError(t, err)
	assert.Equal(t, SourceDeterministic, decision.Source)
	assert.Less(t, time.Since(start), time.Second, "LLM deadline must bound the call")
}

func TestAnalyze_LLMErrorDegradesSilently(t *testing.T) {
	provider := &fakeProvider{err: errors.New("upstream down")}
	a := newAnalyzer(staticRatio(0), provider)

	decision, err := a.Analyze(context.Background(),
		"show me laptops from inventory where price > 1000 similar to developer picks", Hints{})
	require.NoError(t, err)
	assert.Equal(t, SourceDeterministic, decision.Source)
}

func TestParseLLMDecision(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		kind    string
	}{
		{"plain json", `{"kind":"sql","confidence":0.8,"reason":"r"}`, false, KindSQL},
		{"fenced json", "```json\n{\"kind\":\"hybrid\",\"confidence\":0.9,\"reason\":\"r\"}\n```", false, KindHybrid},
		{"unknown kind", `{"kind":"graph","confidence":0.8}`, true, ""},
		{"confidence out of range", `{"kind":"sql","confidence":1.4}`, true, ""},
		{"not json", "definitely sql", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := parseLLMDecision(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, decision.Kind)
		})
	}
}
