package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/conceptdb/gateway/pkg/apperror"
	"github.com/conceptdb/gateway/pkg/logger"
)

// CounterFunc reports a tenant's current count for a bulk resource
// (concepts, storage bytes).
type CounterFunc func(ctx context.Context, tenant string) (int64, error)

// Config controls the gate's behavior.
type Config struct {
	// Strict rejects tenants without a quota row with UnknownTenant;
	// otherwise DefaultPlan applies.
	Strict bool

	// DefaultPlan applies to tenants without a persisted quota row.
	DefaultPlan Limits
}

// Service is the quota gate on the query path. Minute and second windows use
// token buckets (continuous refill); monthly windows use fixed UTC calendar
// boundaries backed by the UsageStore. Admits on the same (tenant, resource)
// are serialized by the bucket and the store's atomic increment; tenants are
// independent.
type Service struct {
	cfg    Config
	source LimitsProvider
	usage  UsageStore
	log    *slog.Logger

	// now is swappable for tests
	now func() time.Time

	bucketMu sync.RWMutex
	buckets  map[string]*rate.Limiter

	counterMu sync.RWMutex
	counters  map[string]CounterFunc
}

// NewService creates a new quota gate.
func NewService(cfg Config, source LimitsProvider, usage UsageStore, log *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		source:   source,
		usage:    usage,
		log:      log.With(logger.Scope("quota")),
		now:      time.Now,
		buckets:  make(map[string]*rate.Limiter),
		counters: make(map[string]CounterFunc),
	}
}

// RegisterCounter wires the current-count source for a bulk resource.
func (s *Service) RegisterCounter(resource string, fn CounterFunc) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	s.counters[resource] = fn
}

// resolveLimits loads the tenant's limits, applying the default plan or
// UnknownTenant per strict mode.
func (s *Service) resolveLimits(ctx context.Context, tenant string) (Limits, error) {
	limits, err := s.source.Limits(ctx, tenant)
	if err != nil {
		return Limits{}, err
	}
	if limits == nil {
		if s.cfg.Strict {
			return Limits{}, apperror.ErrUnknownTenant
		}
		return s.cfg.DefaultPlan, nil
	}
	return *limits, nil
}

// MaxPhase returns the highest evolution phase the tenant may reach.
func (s *Service) MaxPhase(ctx context.Context, tenant string) (int, error) {
	limits, err := s.resolveLimits(ctx, tenant)
	if err != nil {
		return 0, err
	}
	return limits.MaxPhase, nil
}

// Admit checks the sliding-window counters for the resource and increments
// them atomically on success. On refusal the error carries the resource that
// ran out and its reset time.
func (s *Service) Admit(ctx context.Context, tenant, resource string) error {
	limits, err := s.resolveLimits(ctx, tenant)
	if err != nil {
		return err
	}

	switch resource {
	case ResourceQuery:
		if err := s.admitBucket(tenant, windowQueriesPerMinute, limits.QueriesPerMinute, time.Minute); err != nil {
			return err
		}
		return s.admitMonthly(ctx, tenant, windowQueriesPerMonth, limits.QueriesPerMonth)
	case ResourceAPICall:
		if err := s.admitBucket(tenant, windowAPICallsPerSecond, limits.APICallsPerSecond, time.Second); err != nil {
			return err
		}
		return s.admitMonthly(ctx, tenant, windowAPICallsPerMonth, limits.APICallsPerMonth)
	default:
		return apperror.NewBadRequest("unknown admitted resource: " + resource)
	}
}

// CheckCapacity evaluates current + delta <= limit for a bulk resource.
func (s *Service) CheckCapacity(ctx context.Context, tenant, resource string, delta int64) error {
	limits, err := s.resolveLimits(ctx, tenant)
	if err != nil {
		return err
	}

	var limit int64
	switch resource {
	case ResourceConcepts:
		limit = limits.MaxConcepts
	case ResourceStorage:
		limit = limits.StorageBytes
	default:
		return apperror.NewBadRequest("unknown bulk resource: " + resource)
	}

	current, err := s.currentCount(ctx, tenant, resource)
	if err != nil {
		return err
	}

	if current+delta > limit {
		return apperror.NewQuotaExceeded(resource, time.Time{})
	}
	return nil
}

// Usage returns a snapshot of the tenant's consumption.
func (s *Service) Usage(ctx context.Context, tenant string) (*UsageSnapshot, error) {
	limits, err := s.resolveLimits(ctx, tenant)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	window := monthStart(now)
	reset := nextMonthStart(now)

	snapshot := &UsageSnapshot{TenantID: tenant, MaxPhase: limits.MaxPhase}

	monthly := []struct {
		resource string
		limit    int64
	}{
		{windowQueriesPerMonth, limits.QueriesPerMonth},
		{windowAPICallsPerMonth, limits.APICallsPerMonth},
	}
	for _, m := range monthly {
		used, err := s.usage.Used(ctx, tenant, m.resource, window)
		if err != nil {
			return nil, err
		}
		resetAt := reset
		snapshot.Resources = append(snapshot.Resources, ResourceUsage{
			Resource: m.resource,
			Used:     used,
			Limit:    m.limit,
			Percent:  percent(used, m.limit),
			ResetAt:  &resetAt,
		})
	}

	for _, resource := range []string{ResourceConcepts, ResourceStorage} {
		current, err := s.currentCount(ctx, tenant, resource)
		if err != nil {
			continue
		}
		limit := limits.MaxConcepts
		if resource == ResourceStorage {
			limit = limits.StorageBytes
		}
		snapshot.Resources = append(snapshot.Resources, ResourceUsage{
			Resource: resource,
			Used:     current,
			Limit:    limit,
			Percent:  percent(current, limit),
		})
	}

	return snapshot, nil
}

// =============================================================================
// Internals
// =============================================================================

func (s *Service) currentCount(ctx context.Context, tenant, resource string) (int64, error) {
	s.counterMu.RLock()
	fn, ok := s.counters[resource]
	s.counterMu.RUnlock()
	if !ok {
		return 0, nil
	}
	return fn(ctx, tenant)
}

// admitBucket reserves one token from the (tenant, window) limiter.
// A reservation that would have to wait is cancelled and refused with the
// instant the token becomes available.
func (s *Service) admitBucket(tenant, window string, limit int, period time.Duration) error {
	if limit <= 0 {
		return apperror.NewQuotaExceeded(window, s.now().Add(period))
	}

	limiter := s.bucket(tenant, window, limit, period)

	now := s.now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return apperror.NewQuotaExceeded(window, now.Add(period))
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return apperror.NewQuotaExceeded(window, now.Add(delay))
	}
	return nil
}

func (s *Service) admitMonthly(ctx context.Context, tenant, window string, limit int64) error {
	now := s.now().UTC()

	ok, _, err := s.usage.CheckAndIncrement(ctx, tenant, window, monthStart(now), 1, limit)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NewQuotaExceeded(window, nextMonthStart(now))
	}
	return nil
}

// bucket returns the limiter for (tenant, window), creating it on first use.
// Limits are refreshed when the tenant's plan changes.
func (s *Service) bucket(tenant, window string, limit int, period time.Duration) *rate.Limiter {
	key := tenant + "\x00" + window

	r := rate.Every(period / time.Duration(limit))

	s.bucketMu.RLock()
	limiter, exists := s.buckets[key]
	s.bucketMu.RUnlock()

	if exists {
		if limiter.Limit() != r || limiter.Burst() != limit {
			limiter.SetLimit(r)
			limiter.SetBurst(limit)
		}
		return limiter
	}

	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()

	// Double check to prevent race condition
	limiter, exists = s.buckets[key]
	if exists {
		if limiter.Limit() != r || limiter.Burst() != limit {
			limiter.SetLimit(r)
			limiter.SetBurst(limit)
		}
		return limiter
	}

	limiter = rate.NewLimiter(r, limit)
	s.buckets[key] = limiter
	return limiter
}

func percent(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}
