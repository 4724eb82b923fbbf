// Package intent classifies incoming queries as sql, semantic, or hybrid.
//
// The deterministic tier is always available; an optional LLM tier runs
// concurrently under a hard deadline and only overrides the deterministic
// decision when its confidence is clearly higher.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/conceptdb/gateway/pkg/apperror"
	"github.com/conceptdb/gateway/pkg/llm"
	"github.com/conceptdb/gateway/pkg/logger"
)

// Query kinds.
const (
	KindSQL      = "sql"
	KindSemantic = "semantic"
	KindHybrid   = "hybrid"
)

// Decision sources.
const (
	SourceDeterministic = "deterministic"
	SourceLLM           = "llm"
	SourceHint          = "hint"
)

// Decision is the analyzer's output.
type Decision struct {
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Source     string  `json:"source"`
}

// Hints optionally steer classification.
type Hints struct {
	// PreferredLayer short-circuits classification when set to a valid kind.
	PreferredLayer string
}

// RatioProvider publishes the evolution bias read on every decision.
type RatioProvider interface {
	ConceptRatio() float64
}

// Config tunes the optional LLM tier.
type Config struct {
	// LLMTimeout is the hard deadline for one classification call.
	LLMTimeout time.Duration

	// ConfidenceMargin the LLM result must beat the deterministic one by.
	ConfidenceMargin float64
}

// Analyzer classifies query text.
type Analyzer struct {
	ratio    RatioProvider
	provider llm.Provider // nil disables the LLM tier
	cfg      Config
	log      *slog.Logger
}

// NewAnalyzer creates an analyzer. provider may be nil.
func NewAnalyzer(ratio RatioProvider, provider llm.Provider, cfg Config, log *slog.Logger) *Analyzer {
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 300 * time.Millisecond
	}
	if cfg.ConfidenceMargin <= 0 {
		cfg.ConfidenceMargin = 0.15
	}
	return &Analyzer{
		ratio:    ratio,
		provider: provider,
		cfg:      cfg,
		log:      log.With(logger.Scope("intent")),
	}
}

var (
	strongSQLRe = regexp.MustCompile(`^\s*(select|insert|update|delete|with|create|drop|alter|explain)\b`)

	// like followed by a quoted literal is SQL's LIKE, not the semantic word
	likeLiteralRe = regexp.MustCompile(`\blike\s+'`)

	sqlTokenRes = []*regexp.Regexp{
		regexp.MustCompile(`\bfrom\b`),
		regexp.MustCompile(`\bwhere\b`),
		regexp.MustCompile(`\bjoin\b`),
		regexp.MustCompile(`\bgroup by\b`),
		regexp.MustCompile(`\border by\b`),
		regexp.MustCompile(`\blimit\b`),
		regexp.MustCompile(`=`),
		regexp.MustCompile(`<`),
		regexp.MustCompile(`>`),
	}

	semanticTokenRes = []*regexp.Regexp{
		regexp.MustCompile(`\bsimilar\b`),
		regexp.MustCompile(`\brelated\b`),
		regexp.MustCompile(`\babout\b`),
		regexp.MustCompile(`\bmight\b`),
		regexp.MustCompile(`\bprobably\b`),
		regexp.MustCompile(`\bseems\b`),
		regexp.MustCompile(`\bfind\b`),
		regexp.MustCompile(`\bshow me\b`),
		regexp.MustCompile(`\bwho\b`),
		regexp.MustCompile(`\bwhat\b`),
	}

	likeRe = regexp.MustCompile(`\blike\b`)
)

const epsilon = 1e-9

// Analyze classifies q. The LLM tier (when configured) runs concurrently and
// degrades silently to the deterministic result on timeout or error.
func (a *Analyzer) Analyze(ctx context.Context, q string, hints Hints) (Decision, error) {
	if strings.TrimSpace(q) == "" {
		return Decision{}, apperror.ErrEmptyQuery
	}

	switch hints.PreferredLayer {
	case KindSQL, KindSemantic, KindHybrid:
		return Decision{
			Kind:       hints.PreferredLayer,
			Confidence: 1.0,
			Reasoning:  "preferred layer hint",
			Source:     SourceHint,
		}, nil
	}

	var llmCh chan *Decision
	if a.provider != nil && a.provider.IsConfigured() {
		llmCh = make(chan *Decision, 1)
		go a.classifyLLM(ctx, q, llmCh)
	}

	decision := a.classifyDeterministic(q)

	// Don't wait on the LLM when its margin is unreachable
	if llmCh != nil && decision.Confidence+a.cfg.ConfidenceMargin <= 1.0 {
		if llmDecision := <-llmCh; llmDecision != nil {
			// The LLM is never authoritative: it only replaces the decision
			// when clearly more confident
			if llmDecision.Confidence >= decision.Confidence+a.cfg.ConfidenceMargin {
				decision = *llmDecision
			}
		}
	}

	return decision, nil
}

// classifyDeterministic implements the always-available tier.
func (a *Analyzer) classifyDeterministic(q string) Decision {
	lower := strings.ToLower(q)

	if strongSQLRe.MatchString(lower) {
		return Decision{
			Kind:       KindSQL,
			Confidence: 1.0,
			Reasoning:  "query starts with a SQL statement keyword",
			Source:     SourceDeterministic,
		}
	}

	sqlHits := 0
	for _, re := range sqlTokenRes {
		if re.MatchString(lower) {
			sqlHits++
		}
	}

	semanticHits := 0
	for _, re := range semanticTokenRes {
		if re.MatchString(lower) {
			semanticHits++
		}
	}
	// "like" counts as semantic only when not followed by a quoted literal
	if likeRe.MatchString(lower) && !likeLiteralRe.MatchString(lower) {
		semanticHits++
	}

	s := float64(semanticHits) / (float64(sqlHits) + float64(semanticHits) + epsilon)

	// Evolution bias: boost the semantic share and renormalize, so higher
	// phases tip borderline queries toward the concept layer without any
	// code change
	ratio := 0.0
	if a.ratio != nil {
		ratio = a.ratio.ConceptRatio()
	}
	boosted := s * (1 + ratio)
	s = boosted / (boosted + (1 - s) + epsilon)

	switch {
	case s >= 0.7:
		return Decision{
			Kind:       KindSemantic,
			Confidence: s,
			Reasoning:  fmt.Sprintf("semantic tokens dominate (%d semantic, %d sql)", semanticHits, sqlHits),
			Source:     SourceDeterministic,
		}
	case s <= 0.3 && sqlHits >= 1:
		return Decision{
			Kind:       KindSQL,
			Confidence: 1 - s,
			Reasoning:  fmt.Sprintf("sql tokens dominate (%d sql, %d semantic)", sqlHits, semanticHits),
			Source:     SourceDeterministic,
		}
	default:
		return Decision{
			Kind:       KindHybrid,
			Confidence: 0.5 + abs(s-0.5),
			Reasoning:  fmt.Sprintf("mixed signals (%d sql, %d semantic)", sqlHits, semanticHits),
			Source:     SourceDeterministic,
		}
	}
}

// llmPrompt asks for a strict JSON verdict.
const llmPrompt = `Classify the user query for a hybrid database gateway.
Reply with exactly one JSON object, no prose:
{"kind":"sql"|"semantic"|"hybrid","confidence":<0..1>,"reason":"<short>"}

sql: structured/relational lookups. semantic: similarity or meaning based
retrieval. hybrid: needs both.

Query: %s`

// classifyLLM runs the optional tier under its hard deadline. Failures are
// silent; the channel receives nil and the deterministic result stands.
func (a *Analyzer) classifyLLM(ctx context.Context, q string, out chan<- *Decision) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	defer cancel()

	completion, err := a.provider.Complete(ctx, fmt.Sprintf(llmPrompt, q))
	if err != nil {
		a.log.Debug("LLM intent tier unavailable", logger.Error(err))
		out <- nil
		return
	}

	decision, err := parseLLMDecision(completion)
	if err != nil {
		a.log.Debug("discarding malformed LLM intent reply", logger.Error(err))
		out <- nil
		return
	}
	out <- decision
}

// parseLLMDecision parses the strict JSON shape, tolerating fenced output.
func parseLLMDecision(completion string) (*Decision, error) {
	text := strings.TrimSpace(completion)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var parsed struct {
		Kind       string  `json:"kind"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
		return nil, err
	}

	switch parsed.Kind {
	case KindSQL, KindSemantic, KindHybrid:
	default:
		return nil, fmt.Errorf("unknown kind %q", parsed.Kind)
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range", parsed.Confidence)
	}

	return &Decision{
		Kind:       parsed.Kind,
		Confidence: parsed.Confidence,
		Reasoning:  parsed.Reason,
		Source:     SourceLLM,
	}, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
