package recalc

import (
	"habitcore/services/goal"
	"habitcore/services/ledger"
	"habitcore/services/maintenance"
	"habitcore/services/streak"
	"habitcore/services/tracker"

	"go.uber.org/fx"
)

var Module = fx.Module("recalc.dispatcher",
	fx.Provide(
		NewDispatcher,
		func(d *Dispatcher) ledger.Dispatcher { return d },
		func(d *Dispatcher) tracker.Goals { return d },
		func(s *goal.Service) Goals { return s },
		func(s *streak.Service) Streaks { return s },
	),
)

// Worker registers the maintenance task handlers on the asynq mux.
var Worker = fx.Module("recalc.worker",
	fx.Provide(
		NewHandler,
		func(s *tracker.Service) GapFiller { return s },
		func(s *goal.Service) GoalUpdater { return s },
		func(s *maintenance.Service) Jobs { return s },
	),
	fx.Invoke(registerHandlers),
)
