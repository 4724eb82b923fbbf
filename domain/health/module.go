package health

import (
	"go.uber.org/fx"
)

// Module provides health endpoints via fx.
var Module = fx.Module("health",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
