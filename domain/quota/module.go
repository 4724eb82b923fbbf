package quota

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/conceptdb/gateway/internal/config"
	"github.com/conceptdb/gateway/pkg/logger"
)

// Module provides the quota gate via fx.
var Module = fx.Module("quota",
	fx.Provide(
		NewRepository,
		provideService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)

func provideService(repo *Repository, cfg *config.Config, log *slog.Logger) *Service {
	gateCfg := Config{
		Strict: cfg.Quota.Strict,
		DefaultPlan: Limits{
			MaxConcepts:       cfg.Quota.DefaultMaxConcepts,
			QueriesPerMonth:   cfg.Quota.DefaultQueriesPerMonth,
			APICallsPerMonth:  cfg.Quota.DefaultAPICallsPerMonth,
			StorageBytes:      cfg.Quota.DefaultStorageBytes,
			QueriesPerMinute:  cfg.Quota.DefaultQueriesPerMinute,
			APICallsPerSecond: cfg.Quota.DefaultAPICallsPerSecond,
			MaxPhase:          cfg.Quota.DefaultMaxPhase,
		},
	}

	var usage UsageStore
	if cfg.Quota.PersistUsage {
		usage = repo
	} else {
		log.With(logger.Scope("quota")).Info("monthly usage counters are in-memory only")
		usage = NewMemoryUsageStore()
	}

	return NewService(gateCfg, repo, usage, log)
}
