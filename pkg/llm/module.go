package llm

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/conceptdb/gateway/internal/config"
	genaiclient "github.com/conceptdb/gateway/pkg/llm/genai"
)

// Module provides the optional LLM provider. The provided Provider is nil
// when no credentials are configured; consumers treat nil as "tier disabled".
var Module = fx.Module("llm",
	fx.Provide(NewProvider),
)

// NewProvider creates the configured LLM provider, or nil when disabled.
func NewProvider(cfg *config.Config, log *slog.Logger) Provider {
	if !cfg.LLM.IsEnabled() {
		log.Info("LLM intent tier disabled")
		return nil
	}

	client, err := genaiclient.NewClient(context.Background(), genaiclient.Config{
		APIKey: cfg.LLM.GoogleAPIKey,
		Model:  cfg.LLM.Model,
	}, genaiclient.WithLogger(log))
	if err != nil {
		// The LLM tier is best-effort; never fail boot over it
		log.Warn("failed to initialize LLM provider, intent tier disabled",
			slog.String("error", err.Error()))
		return nil
	}

	log.Info("LLM intent tier enabled", slog.String("model", cfg.LLM.Model))
	return client
}
