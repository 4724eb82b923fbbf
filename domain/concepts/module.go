package concepts

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/conceptdb/gateway/domain/quota"
	"github.com/conceptdb/gateway/internal/config"
	"github.com/conceptdb/gateway/pkg/embeddings"
	"github.com/conceptdb/gateway/pkg/vectorstore"
)

// Module provides concept store dependencies via fx.
var Module = fx.Module("concepts",
	fx.Provide(
		NewRepository,
		provideService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(registerConceptCounter),
)

func provideService(repo *Repository, vectors vectorstore.Store, emb *embeddings.Service, gate *quota.Service, cfg *config.Config, log *slog.Logger) *Service {
	return NewService(repo, vectors, emb, gate, cfg.Vector.Dimension, log)
}

// registerConceptCounter wires the concept count into the quota gate's
// capacity checks.
func registerConceptCounter(repo *Repository, gate *quota.Service) {
	gate.RegisterCounter(quota.ResourceConcepts, func(ctx context.Context, tenant string) (int64, error) {
		return repo.Count(ctx, tenant)
	})
}
