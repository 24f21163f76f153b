package maintenance

import (
	"context"
	"time"

	"habitcore/pkg/config"

	"github.com/facebookgo/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service *Service
	clock   clock.Clock
	hour    int
}

func NewScheduler(svc *Service, c clock.Clock, cfg *config.Config) *Scheduler {
	return &Scheduler{service: svc, clock: c, hour: cfg.Engine.MaintenanceHour}
}

// StartScheduler runs the daily loop for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started maintenance scheduler", zap.Int("hour", s.hour))

	for {
		now := s.clock.Now().UTC()
		next := nextRunTime(now, s.hour, 0)

		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", next.Sub(now)),
		)
		select {
		case <-s.clock.After(next.Sub(now)):
			s.runDaily(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	start := s.clock.Now()
	zap.L().Info("[Scheduler] running daily maintenance enqueue")

	summary, err := s.service.EnqueueAll(ctx)
	if err != nil {
		zap.L().Error("[Scheduler] failed enqueue maintenance", zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] finished daily maintenance enqueue",
		zap.Int("trackers", summary.Trackers),
		zap.Int("goals", summary.Goals),
		zap.Duration("duration", s.clock.Now().Sub(start)),
	)
}

// nextRunTime returns the next occurrence of hour:minute at or after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
