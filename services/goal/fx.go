package goal

import "go.uber.org/fx"

var Module = fx.Module("goal.service",
	fx.Provide(NewService),
)
