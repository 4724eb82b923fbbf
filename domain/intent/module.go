package intent

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/conceptdb/gateway/domain/evolution"
	"github.com/conceptdb/gateway/internal/config"
	"github.com/conceptdb/gateway/pkg/llm"
)

// Module provides the intent analyzer via fx.
var Module = fx.Module("intent",
	fx.Provide(provideAnalyzer),
)

func provideAnalyzer(tracker *evolution.Tracker, provider llm.Provider, cfg *config.Config, log *slog.Logger) *Analyzer {
	return NewAnalyzer(tracker, provider, Config{
		LLMTimeout:       cfg.LLM.IntentTimeout,
		ConfidenceMargin: cfg.LLM.ConfidenceMargin,
	}, log)
}
