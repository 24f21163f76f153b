package maintenance

import "go.uber.org/fx"

var Module = fx.Module("maintenance.service",
	fx.Provide(NewService),
)

// Scheduler runs the daily enqueue loop. Only one process should include it.
var SchedulerModule = fx.Module("maintenance.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)
