package evolution

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/conceptdb/gateway/domain/quota"
)

// Module provides the evolution tracker via fx.
var Module = fx.Module("evolution",
	fx.Provide(
		fx.Annotate(
			NewRepository,
			fx.As(new(StateStore)),
		),
		provideTracker,
		provideHandler,
	),
	fx.Invoke(RegisterRoutes),
)

func provideTracker(store StateStore, log *slog.Logger) (*Tracker, error) {
	return NewTracker(context.Background(), store, log)
}

func provideHandler(tracker *Tracker, gate *quota.Service) *Handler {
	return NewHandler(tracker, gate)
}
