package preference

import "go.uber.org/fx"

var Module = fx.Module("preference.service",
	fx.Provide(
		NewService,
		func(s *Service) Provider { return s },
	),
)
