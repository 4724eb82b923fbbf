// Package embeddings provides embedding generation functionality.
package embeddings

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/conceptdb/gateway/internal/config"
	"github.com/conceptdb/gateway/pkg/embeddings/genai"
)

// Module provides the embeddings fx.Module
var Module = fx.Module("embeddings",
	fx.Provide(NewService),
)

// Service provides embedding generation with automatic client selection
type Service struct {
	client  Client
	log     *slog.Logger
	enabled bool
}

// NewNoopService creates a service with a noop client (for testing)
func NewNoopService(log *slog.Logger) *Service {
	return &Service{
		client:  NewNoopClient(),
		log:     log,
		enabled: false,
	}
}

// NewLocalService creates a service backed by the deterministic local embedder.
func NewLocalService(dim int, log *slog.Logger) *Service {
	return &Service{
		client:  NewLocalClient(dim),
		log:     log,
		enabled: true,
	}
}

// NewService creates a new embeddings service
func NewService(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) *Service {
	embCfg := cfg.Embeddings

	if embCfg.NetworkDisabled && embCfg.Provider != "local" {
		log.Info("embeddings service disabled")
		return NewNoopService(log)
	}

	if !embCfg.UseGenAI() {
		log.Info("using local deterministic embedder",
			slog.Int("dimension", cfg.Vector.Dimension))
		return NewLocalService(cfg.Vector.Dimension, log)
	}

	svc := &Service{
		client:  NewNoopClient(), // Will be replaced on start
		log:     log,
		enabled: false,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("initializing Google Generative AI embeddings client",
				slog.String("model", embCfg.Model),
				slog.Int("dimension", cfg.Vector.Dimension),
			)

			client, err := genai.NewClient(ctx, genai.Config{
				APIKey:    embCfg.GoogleAPIKey,
				Model:     embCfg.Model,
				Dimension: cfg.Vector.Dimension,
			}, genai.WithLogger(log))
			if err != nil {
				log.Error("failed to initialize Generative AI client, falling back to local embedder",
					slog.String("error", err.Error()))
				svc.client = NewLocalClient(cfg.Vector.Dimension)
				svc.enabled = true
				return nil // Don't fail startup
			}
			svc.client = client
			svc.enabled = true
			log.Info("Google Generative AI embeddings client initialized")
			return nil
		},
	})

	return svc
}

// IsEnabled returns true if embeddings are available
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// Dimension returns the dimension of vectors the active client produces
func (s *Service) Dimension() int {
	return s.client.Dimension()
}

// EmbedQuery generates an embedding for a single query
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.client.EmbedQuery(ctx, query)
}

// EmbedDocuments generates embeddings for multiple documents
func (s *Service) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	return s.client.EmbedDocuments(ctx, documents)
}
