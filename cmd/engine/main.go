package main

import (
	"flag"

	"github.com/facebookgo/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"habitcore/pkg/config"
	"habitcore/pkg/db"
	"habitcore/pkg/gen"
	"habitcore/pkg/health"
	"habitcore/pkg/logger"
	"habitcore/pkg/otelcol"
	"habitcore/pkg/profiling"
	"habitcore/pkg/redis"
	"habitcore/pkg/task"
	"habitcore/services/engine"
	"habitcore/services/maintenance"
	"habitcore/services/recalc"
)

func main() {
	scheduler := flag.Bool("scheduler", true, "run the daily maintenance scheduler in this process")
	flag.Parse()

	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		health.Module,
		fx.Provide(provideClock),
		task.Client,
		task.Server,
		engine.Module,
		maintenance.Module,
		recalc.Worker,
		fxLogger,
	}
	if *scheduler {
		opts = append(opts, maintenance.SchedulerModule)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})

func provideClock() clock.Clock {
	return clock.New()
}
