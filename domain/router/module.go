package router

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/conceptdb/gateway/domain/concepts"
	"github.com/conceptdb/gateway/domain/evolution"
	"github.com/conceptdb/gateway/domain/intent"
	"github.com/conceptdb/gateway/domain/quota"
	"github.com/conceptdb/gateway/internal/config"
	"github.com/conceptdb/gateway/pkg/cache"
	"github.com/conceptdb/gateway/pkg/relational"
)

// Module provides the query router via fx.
var Module = fx.Module("router",
	fx.Provide(
		NewRepository,
		provideService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)

func provideService(
	gate *quota.Service,
	analyzer *intent.Analyzer,
	rel relational.Store,
	conceptSvc *concepts.Service,
	repo *Repository,
	tracker *evolution.Tracker,
	cfg *config.Config,
	log *slog.Logger,
) *Service {
	results := cache.NewMemoryCache(cfg.Router.CacheSize, cfg.Router.CacheTTL)

	return NewService(
		gate,
		analyzer,
		rel,
		conceptSvc,
		results,
		repo,
		tracker,
		Config{
			ExecuteTimeout:    cfg.Router.ExecuteTimeout,
			CacheTTL:          cfg.Router.CacheTTL,
			SemanticK:         cfg.Router.SemanticK,
			SemanticThreshold: cfg.Router.SemanticThreshold,
		},
		log,
	)
}
