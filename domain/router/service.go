package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/conceptdb/gateway/domain/concepts"
	"github.com/conceptdb/gateway/domain/evolution"
	"github.com/conceptdb/gateway/domain/intent"
	"github.com/conceptdb/gateway/pkg/apperror"
	"github.com/conceptdb/gateway/pkg/cache"
	"github.com/conceptdb/gateway/pkg/logger"
	"github.com/conceptdb/gateway/pkg/mathutil"
	"github.com/conceptdb/gateway/pkg/relational"
	"github.com/conceptdb/gateway/pkg/tracing"
)

// Gate admits a request against the tenant's quota.
type Gate interface {
	Admit(ctx context.Context, tenant, resource string) error
}

// Classifier produces a routing decision for a query.
type Classifier interface {
	Analyze(ctx context.Context, q string, hints intent.Hints) (intent.Decision, error)
}

// SemanticSearcher is the concept store surface the router needs.
type SemanticSearcher interface {
	SemanticSearch(ctx context.Context, tenant string, req *concepts.SearchRequest) ([]concepts.ScoredConcept, error)
}

// Observer receives routing observations on the success path.
type Observer interface {
	Observe(obs evolution.Observation)
}

// Config tunes the router.
type Config struct {
	ExecuteTimeout    time.Duration
	CacheTTL          time.Duration
	SemanticK         int
	SemanticThreshold float64
}

// Service is the query router: it admits, classifies, dispatches to one or
// both engines, merges, logs, and feeds the evolution tracker.
type Service struct {
	gate       Gate
	classifier Classifier
	rel        relational.Store
	semantic   SemanticSearcher
	results    cache.Cache
	logs       LogStore
	observer   Observer
	cfg        Config
	log        *slog.Logger
}

// NewService creates a new router service.
func NewService(gate Gate, classifier Classifier, rel relational.Store, semantic SemanticSearcher, results cache.Cache, logs LogStore, observer Observer, cfg Config, log *slog.Logger) *Service {
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.SemanticK <= 0 {
		cfg.SemanticK = 10
	}
	return &Service{
		gate:       gate,
		classifier: classifier,
		rel:        rel,
		semantic:   semantic,
		results:    results,
		logs:       logs,
		observer:   observer,
		cfg:        cfg,
		log:        log.With(logger.Scope("router")),
	}
}

// cachedResult is the cache entry shape.
type cachedResult struct {
	Result *Result
	Info   RouteInfo
}

// branchOutcome carries one engine branch's result across the fan-in.
type branchOutcome struct {
	items   []ResultItem
	latency time.Duration
	err     error
}

// Execute routes one query. A QueryLog entry is written for every outcome,
// before the reply; the evolution tracker observes the success path only.
func (s *Service) Execute(ctx context.Context, tenant, query string, opts QueryOpts) (*Result, RouteInfo, error) {
	started := time.Now()

	ctx, span := tracing.Start(ctx, "router.execute",
		attribute.String("gateway.tenant", tenant))
	defer span.End()

	if strings.TrimSpace(query) == "" {
		err := apperror.ErrEmptyQuery
		s.writeLog(ctx, tenant, query, RouteInfo{}, 0, err)
		queriesTotal.WithLabelValues("unknown", "error").Inc()
		return nil, RouteInfo{}, err
	}

	if err := s.gate.Admit(ctx, tenant, "query"); err != nil {
		s.writeLog(ctx, tenant, query, RouteInfo{}, 0, err)
		queriesTotal.WithLabelValues("unknown", "quota_exceeded").Inc()
		return nil, RouteInfo{}, err
	}

	// Cache lookup; a hit still counts against quota and the tracker
	key := fingerprint(tenant, query, opts)
	if !opts.NoCache {
		if value, ok := s.results.Get(ctx, key); ok {
			if cached, ok := value.(*cachedResult); ok {
				info := cached.Info
				info.Cached = true
				info.LatencyMs = time.Since(started).Milliseconds()

				s.writeLog(ctx, tenant, query, info, cached.Result.Count, nil)
				s.observe(info)
				cacheHits.Inc()
				queriesTotal.WithLabelValues(info.Kind, "cached").Inc()
				return cached.Result, info, nil
			}
		}
	}

	decision, err := s.classifier.Analyze(ctx, query, intent.Hints{PreferredLayer: opts.PreferredLayer})
	if err != nil {
		s.writeLog(ctx, tenant, query, RouteInfo{}, 0, err)
		queriesTotal.WithLabelValues("unknown", "error").Inc()
		return nil, RouteInfo{}, err
	}

	info := RouteInfo{
		Kind:       decision.Kind,
		Confidence: decision.Confidence,
		Reasoning:  decision.Reasoning,
	}

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecuteTimeout)
	defer cancel()

	var result *Result
	switch decision.Kind {
	case intent.KindSQL:
		result, err = s.executeSQL(execCtx, query, opts, &info)
	case intent.KindSemantic:
		result, err = s.executeSemantic(execCtx, tenant, query, opts, &info)
	default:
		result, err = s.executeHybrid(execCtx, tenant, query, opts, &info)
	}

	info.LatencyMs = time.Since(started).Milliseconds()

	if err != nil {
		s.writeLog(ctx, tenant, query, info, 0, err)
		queriesTotal.WithLabelValues(info.Kind, "error").Inc()
		return nil, info, err
	}

	if !opts.NoCache && !info.Degraded {
		s.results.Put(ctx, key, &cachedResult{Result: result, Info: info}, int(s.cfg.CacheTTL.Seconds()))
	}

	// The log entry precedes the reply so observers never see an unlogged
	// client-visible result; Observe follows the computed result, still
	// before the reply
	s.writeLog(ctx, tenant, query, info, result.Count, nil)
	s.observe(info)

	outcome := "ok"
	if info.Degraded {
		outcome = "degraded"
		degradedTotal.Inc()
	}
	queriesTotal.WithLabelValues(info.Kind, outcome).Inc()

	return result, info, nil
}

// Explain classifies without executing.
func (s *Service) Explain(ctx context.Context, tenant, query string, opts QueryOpts) (RouteInfo, error) {
	if err := s.gate.Admit(ctx, tenant, "api_call"); err != nil {
		return RouteInfo{}, err
	}

	decision, err := s.classifier.Analyze(ctx, query, intent.Hints{PreferredLayer: opts.PreferredLayer})
	if err != nil {
		return RouteInfo{}, err
	}

	branches := []string{"relational"}
	switch decision.Kind {
	case intent.KindSemantic:
		branches = []string{"concepts"}
	case intent.KindHybrid:
		branches = []string{"relational", "concepts"}
	}

	return RouteInfo{
		Kind:       decision.Kind,
		Confidence: decision.Confidence,
		Reasoning:  decision.Reasoning,
		Branches:   branches,
	}, nil
}

// =============================================================================
// Branch execution
// =============================================================================

func (s *Service) executeSQL(ctx context.Context, query string, opts QueryOpts, info *RouteInfo) (*Result, error) {
	ctx, span := tracing.Start(ctx, "router.branch.sql")
	defer span.End()

	info.Branches = []string{"relational"}

	start := time.Now()
	rows, _, err := s.rel.Execute(ctx, query, opts.Params...)
	latency := time.Since(start)
	info.SQLLatencyMs = latency.Milliseconds()
	queryDuration.WithLabelValues("sql").Observe(latency.Seconds())

	if err != nil {
		return nil, mapBranchError(ctx, err, apperror.ErrRelationalBackend)
	}

	items := rowItems(rows)
	return &Result{Items: items, Count: len(items)}, nil
}

func (s *Service) executeSemantic(ctx context.Context, tenant, query string, opts QueryOpts, info *RouteInfo) (*Result, error) {
	ctx, span := tracing.Start(ctx, "router.branch.semantic")
	defer span.End()

	info.Branches = []string{"concepts"}

	start := time.Now()
	hits, err := s.semantic.SemanticSearch(ctx, tenant, &concepts.SearchRequest{
		Text:      query,
		K:         s.semanticK(opts),
		Threshold: s.semanticThreshold(opts),
	})
	latency := time.Since(start)
	info.SemanticLatencyMs = latency.Milliseconds()
	queryDuration.WithLabelValues("semantic").Observe(latency.Seconds())

	if err != nil {
		return nil, mapBranchError(ctx, err, apperror.ErrVectorBackend)
	}

	items := conceptItems(hits)
	return &Result{Items: items, Count: len(items)}, nil
}

// executeHybrid fans out both branches under the shared deadline. A branch
// failure does not cancel its sibling; whichever sides succeed contribute to
// the merge.
func (s *Service) executeHybrid(ctx context.Context, tenant, query string, opts QueryOpts, info *RouteInfo) (*Result, error) {
	ctx, span := tracing.Start(ctx, "router.branch.hybrid")
	defer span.End()

	info.Branches = []string{"relational", "concepts"}

	sqlCh := make(chan branchOutcome, 1)
	semCh := make(chan branchOutcome, 1)

	go func() {
		start := time.Now()
		rows, _, err := s.rel.Execute(ctx, query, opts.Params...)
		outcome := branchOutcome{latency: time.Since(start), err: err}
		if err == nil {
			outcome.items = rowItems(rows)
		}
		sqlCh <- outcome
	}()

	go func() {
		start := time.Now()
		hits, err := s.semantic.SemanticSearch(ctx, tenant, &concepts.SearchRequest{
			Text:      query,
			K:         s.semanticK(opts),
			Threshold: s.semanticThreshold(opts),
		})
		outcome := branchOutcome{latency: time.Since(start), err: err}
		if err == nil {
			outcome.items = conceptItems(hits)
		}
		semCh <- outcome
	}()

	// The channels are buffered, so fan-in order doesn't block either branch
	sqlOut := <-sqlCh
	semOut := <-semCh

	info.SQLLatencyMs = sqlOut.latency.Milliseconds()
	info.SemanticLatencyMs = semOut.latency.Milliseconds()
	queryDuration.WithLabelValues("sql").Observe(sqlOut.latency.Seconds())
	queryDuration.WithLabelValues("semantic").Observe(semOut.latency.Seconds())

	switch {
	case sqlOut.err == nil && semOut.err == nil:
		merged := mergeItems(sqlOut.items, semOut.items)
		return &Result{Items: merged, Count: len(merged)}, nil

	case sqlOut.err != nil && semOut.err != nil:
		// Surface whichever error finished first (the SQL branch completed
		// first in fan-in order when both raced the deadline), attaching the
		// sibling's error
		first := mapBranchError(ctx, sqlOut.err, apperror.ErrRelationalBackend)
		second := mapBranchError(ctx, semOut.err, apperror.ErrVectorBackend)
		if semOut.latency < sqlOut.latency {
			first, second = second, first
		}
		var appErr *apperror.Error
		if errors.As(first, &appErr) {
			return nil, appErr.WithDetails(map[string]any{"also_failed": second.Error()})
		}
		return nil, first

	case sqlOut.err != nil:
		info.Degraded = true
		info.PartialError = mapBranchError(ctx, sqlOut.err, apperror.ErrRelationalBackend).Error()
		return &Result{Items: semOut.items, Count: len(semOut.items)}, nil

	default:
		info.Degraded = true
		info.PartialError = mapBranchError(ctx, semOut.err, apperror.ErrVectorBackend).Error()
		// Only the SQL branch survived: its engine ordering is preserved
		return &Result{Items: sqlOut.items, Count: len(sqlOut.items)}, nil
	}
}

// =============================================================================
// Internals
// =============================================================================

func (s *Service) semanticK(opts QueryOpts) int {
	return mathutil.ClampLimit(opts.K, s.cfg.SemanticK, 100)
}

func (s *Service) semanticThreshold(opts QueryOpts) float64 {
	if opts.Threshold > 0 {
		return opts.Threshold
	}
	return s.cfg.SemanticThreshold
}

// mapBranchError normalizes a branch failure: deadlines surface as
// DeadlineExceeded, app errors pass through, everything else wraps in the
// branch's upstream class.
func mapBranchError(ctx context.Context, err error, upstream *apperror.Error) error {
	if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return apperror.ErrDeadlineExceeded.WithInternal(err)
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return upstream.WithInternal(err)
}

// writeLog persists the per-query record. Failures are logged and swallowed;
// a broken log store must not break the query path.
func (s *Service) writeLog(ctx context.Context, tenant, query string, info RouteInfo, resultCount int, execErr error) {
	// The entry must land even when the request context already expired
	ctx = context.WithoutCancel(ctx)

	kind := info.Kind
	if kind == "" {
		kind = "unknown"
	}

	entry := &QueryLog{
		TenantID:    tenant,
		QueryText:   truncate(query, 4096),
		Kind:        kind,
		Confidence:  info.Confidence,
		Cached:      info.Cached,
		Degraded:    info.Degraded,
		ResultCount: resultCount,
		CreatedAt:   time.Now().UTC(),
	}
	if info.SQLLatencyMs > 0 {
		ms := info.SQLLatencyMs
		entry.SQLMs = &ms
	}
	if info.SemanticLatencyMs > 0 {
		ms := info.SemanticLatencyMs
		entry.SemanticMs = &ms
	}
	if execErr != nil {
		code := "internal_error"
		var appErr *apperror.Error
		if errors.As(execErr, &appErr) {
			code = appErr.Code
		}
		entry.ErrorCode = &code
	}

	if err := s.logs.Insert(ctx, entry); err != nil {
		s.log.Error("failed to write query log",
			slog.String("tenant", tenant), logger.Error(err))
	}
}

func (s *Service) observe(info RouteInfo) {
	if s.observer == nil {
		return
	}
	s.observer.Observe(evolution.Observation{
		Kind:            info.Kind,
		Confidence:      info.Confidence,
		SQLLatency:      time.Duration(info.SQLLatencyMs) * time.Millisecond,
		SemanticLatency: time.Duration(info.SemanticLatencyMs) * time.Millisecond,
		MergeHit:        info.Kind == intent.KindHybrid && !info.Degraded,
	})
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
