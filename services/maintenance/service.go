package maintenance

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"habitcore/pkg/config"
	"habitcore/pkg/repository"
	"habitcore/pkg/task"
	"habitcore/pkg/taskname"
	"habitcore/services/goal"
	"habitcore/services/period"
	"habitcore/services/preference"
	"habitcore/services/tracker"

	"github.com/bwmarrin/snowflake"
	"github.com/facebookgo/clock"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const pageSize = 250

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    clock.Clock
	enqueuer task.Enqueuer
	prefs    preference.Provider
	lookback int

	jobs repository.Repository[Job]
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    clock.Clock
	Enqueuer task.Enqueuer
	Prefs    preference.Provider
	Config   *config.Config
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		clock:    p.Clock,
		enqueuer: p.Enqueuer,
		prefs:    p.Prefs,
		lookback: p.Config.Engine.GapFillLookback,

		jobs: repository.ProvideStore[Job](p.DB),
	}
}

// EnqueueFillGaps records a job and queues a tracker:fill_gaps task for it.
func (s *Service) EnqueueFillGaps(ctx context.Context, trackerID string, start, end time.Time, markMissed bool) (*Job, error) {
	payload := FillGapsPayload{
		TrackerID:  trackerID,
		Start:      start.Format(time.DateOnly),
		End:        end.Format(time.DateOnly),
		MarkMissed: markMissed,
	}
	return s.enqueue(ctx, taskname.TrackerFillGaps, trackerID, func(jobID string) any {
		payload.JobID = jobID
		return payload
	})
}

// EnqueueRecalculate records a job and queues a goal:recalculate task for it.
func (s *Service) EnqueueRecalculate(ctx context.Context, goalID string) (*Job, error) {
	return s.enqueue(ctx, taskname.GoalRecalculate, goalID, func(jobID string) any {
		return RecalculatePayload{JobID: jobID, GoalID: goalID}
	})
}

func (s *Service) enqueue(ctx context.Context, typename, subjectID string, build func(jobID string) any) (*Job, error) {
	job := &Job{
		ID:        s.node.Generate().String(),
		TaskType:  typename,
		SubjectID: subjectID,
		Status:    JobPending,
	}
	payload := build(job.ID)

	metadata, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	job.Metadata = datatypes.JSON(metadata)

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	t, err := task.NewJSONTask(typename, payload, asynq.Queue("low"), asynq.TaskID(job.ID), asynq.MaxRetry(3))
	if err != nil {
		return nil, err
	}
	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
		if uerr := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]any{
			"status":    JobFailed,
			"error_msg": err.Error(),
		}).Error; uerr != nil {
			zap.L().Error("failed to record job outcome", zap.String("job_id", job.ID), zap.Error(uerr))
		}
		job.Status = JobFailed
		return job, err
	}

	zap.L().Debug("enqueued maintenance job",
		zap.String("task_type", typename),
		zap.String("subject_id", subjectID),
		zap.String("job_id", job.ID),
	)
	return job, nil
}

// StartJob marks a job running and counts the attempt. Tasks enqueued without
// a job record pass an empty id.
func (s *Service) StartJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return nil
	}
	now := s.clock.Now().UTC()
	return s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"status":     JobRunning,
		"started_at": now,
		"attempts":   gorm.Expr("attempts + 1"),
	}).Error
}

// FinishJob records the outcome of a job run.
func (s *Service) FinishJob(ctx context.Context, jobID string, runErr error) error {
	if jobID == "" {
		return nil
	}
	updates := map[string]any{
		"status":       JobSuccess,
		"completed_at": s.clock.Now().UTC(),
		"error_msg":    "",
	}
	if runErr != nil {
		updates["status"] = JobFailed
		updates["error_msg"] = runErr.Error()
	}
	return s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(updates).Error
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.jobs.FindOne(ctx, &Job{ID: jobID})
}

type RunSummary struct {
	Trackers int
	Goals    int
	Failed   int
}

// EnqueueAll queues gap filling for every active tracker over the look-back
// window ending yesterday, and a recalculation for every goal not abandoned.
// The window never reaches back before the tracker's creation date.
func (s *Service) EnqueueAll(ctx context.Context) (*RunSummary, error) {
	var (
		summary RunSummary
		filled  atomic.Int64
		failed  atomic.Int64
	)

	if s.lookback > 0 {
		cursor := ""
		for {
			var trackers []*tracker.TrackerDefinition
			err := s.db.WithContext(ctx).
				Select("id", "owner_id", "created_at").
				Where("status = ? AND id > ?", tracker.TrackerActive, cursor).
				Order("id ASC").Limit(pageSize).
				Find(&trackers).Error
			if err != nil {
				return nil, err
			}
			if len(trackers) == 0 {
				break
			}

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(8)
			for _, t := range trackers {
				g.Go(func() error {
					prefs, err := s.prefs.Get(gctx, t.OwnerID)
					if err != nil {
						return err
					}
					start, end, ok := s.fillWindow(t, prefs.Location)
					if !ok {
						return nil
					}
					if _, err := s.EnqueueFillGaps(gctx, t.ID, start, end, true); err != nil {
						zap.L().Error("failed enqueue fill gaps", zap.String("tracker_id", t.ID), zap.Error(err))
						failed.Add(1)
						return nil
					}
					filled.Add(1)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}

			cursor = trackers[len(trackers)-1].ID
		}
	}

	cursor := ""
	for {
		var ids []string
		err := s.db.WithContext(ctx).Model(&goal.Goal{}).
			Where("status <> ? AND id > ?", goal.StatusAbandoned, cursor).
			Order("id ASC").Limit(pageSize).
			Pluck("id", &ids).Error
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for _, id := range ids {
			g.Go(func() error {
				if _, err := s.EnqueueRecalculate(gctx, id); err != nil {
					zap.L().Error("failed enqueue goal recalculation", zap.String("goal_id", id), zap.Error(err))
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		summary.Goals += len(ids)
		cursor = ids[len(ids)-1]
	}

	summary.Trackers = int(filled.Load())
	summary.Failed = int(failed.Load())
	zap.L().Info("finished enqueue maintenance jobs",
		zap.Int("trackers", summary.Trackers),
		zap.Int("goals", summary.Goals),
		zap.Int("failed", summary.Failed),
	)
	return &summary, nil
}

// fillWindow is the owner-local look-back window ending yesterday, clamped to
// the tracker's creation date. ok is false when the window is empty.
func (s *Service) fillWindow(t *tracker.TrackerDefinition, loc *time.Location) (start, end time.Time, ok bool) {
	if loc == nil {
		loc = time.UTC
	}
	today := period.Today(s.clock, loc)
	start, end = today.AddDate(0, 0, -s.lookback), today.AddDate(0, 0, -1)
	if !t.CreatedAt.IsZero() {
		if created := period.Normalize(t.CreatedAt.In(loc)); created.After(start) {
			start = created
		}
	}
	return start, end, !start.After(end)
}
