package recalc

import (
	"context"
	"fmt"
	"time"

	"habitcore/pkg/errutil"
	"habitcore/pkg/task"
	"habitcore/pkg/taskname"
	"habitcore/services/goal"
	"habitcore/services/maintenance"
	"habitcore/services/tracker"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type GapFiller interface {
	FillGaps(ctx context.Context, trackerID string, start, end time.Time, markMissed bool) ([]*tracker.InstanceView, error)
}

type GoalUpdater interface {
	Update(ctx context.Context, goalID string) (*goal.Progress, error)
	Get(ctx context.Context, goalID string) (*goal.Goal, error)
}

type Jobs interface {
	StartJob(ctx context.Context, jobID string) error
	FinishJob(ctx context.Context, jobID string, runErr error) error
}

// Handler runs maintenance tasks delivered by asynq. Tasks are at-least-once;
// both operations are idempotent.
type Handler struct {
	trackers   GapFiller
	goals      GoalUpdater
	jobs       Jobs
	dispatcher *Dispatcher
}

type HandlerParams struct {
	fx.In
	Trackers   GapFiller
	Goals      GoalUpdater
	Jobs       Jobs
	Dispatcher *Dispatcher
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{trackers: p.Trackers, goals: p.Goals, jobs: p.Jobs, dispatcher: p.Dispatcher}
}

func (h *Handler) HandleFillGaps(ctx context.Context, t *asynq.Task) error {
	var payload maintenance.FillGapsPayload
	if err := task.DecodePayload(t, &payload); err != nil {
		zap.L().Error("invalid fill gaps payload", zap.Error(err))
		return err
	}

	start, err := time.Parse(time.DateOnly, payload.Start)
	if err != nil {
		return h.finish(ctx, payload.JobID, fmt.Errorf("parse start: %v: %w", err, asynq.SkipRetry))
	}
	end, err := time.Parse(time.DateOnly, payload.End)
	if err != nil {
		return h.finish(ctx, payload.JobID, fmt.Errorf("parse end: %v: %w", err, asynq.SkipRetry))
	}

	if err := h.jobs.StartJob(ctx, payload.JobID); err != nil {
		return err
	}

	created, err := h.trackers.FillGaps(ctx, payload.TrackerID, start, end, payload.MarkMissed)
	if err != nil {
		return h.finish(ctx, payload.JobID, skipIfPermanent(err))
	}

	zap.L().Info("fill gaps task finished",
		zap.String("tracker_id", payload.TrackerID),
		zap.Int("created", len(created)),
	)
	return h.finish(ctx, payload.JobID, nil)
}

func (h *Handler) HandleRecalculate(ctx context.Context, t *asynq.Task) error {
	var payload maintenance.RecalculatePayload
	if err := task.DecodePayload(t, &payload); err != nil {
		zap.L().Error("invalid recalculate payload", zap.Error(err))
		return err
	}

	if err := h.jobs.StartJob(ctx, payload.JobID); err != nil {
		return err
	}

	p, err := h.goals.Update(ctx, payload.GoalID)
	if err != nil {
		return h.finish(ctx, payload.JobID, skipIfPermanent(err))
	}

	if p.AchievedNow && h.dispatcher != nil {
		g, err := h.goals.Get(ctx, payload.GoalID)
		if err != nil {
			return h.finish(ctx, payload.JobID, err)
		}
		h.dispatcher.GoalUpdated(ctx, g, p)
	}
	return h.finish(ctx, payload.JobID, nil)
}

func (h *Handler) finish(ctx context.Context, jobID string, runErr error) error {
	if err := h.jobs.FinishJob(ctx, jobID, runErr); err != nil {
		zap.L().Error("failed to record job outcome", zap.String("job_id", jobID), zap.Error(err))
	}
	return runErr
}

// skipIfPermanent stops asynq from retrying errors a retry cannot fix.
func skipIfPermanent(err error) error {
	if errutil.IsNotFound(err) || errutil.IsValidation(err) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func registerHandlers(mux *asynq.ServeMux, h *Handler) {
	mux.HandleFunc(taskname.TrackerFillGaps, h.HandleFillGaps)
	mux.HandleFunc(taskname.GoalRecalculate, h.HandleRecalculate)
}
