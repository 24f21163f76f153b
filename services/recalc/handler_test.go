package recalc

import (
	"context"
	"errors"
	"testing"
	"time"

	"habitcore/pkg/errutil"
	"habitcore/pkg/task"
	"habitcore/pkg/taskname"
	"habitcore/services/goal"
	"habitcore/services/maintenance"
	"habitcore/services/notification"
	"habitcore/services/tracker"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeGapFiller struct {
	trackerID  string
	start, end time.Time
	markMissed bool
	err        error
}

func (f *fakeGapFiller) FillGaps(ctx context.Context, trackerID string, start, end time.Time, markMissed bool) ([]*tracker.InstanceView, error) {
	f.trackerID, f.start, f.end, f.markMissed = trackerID, start, end, markMissed
	return nil, f.err
}

type fakeGoals struct {
	progress *goal.Progress
	err      error
}

func (f *fakeGoals) Update(ctx context.Context, goalID string) (*goal.Progress, error) {
	return f.progress, f.err
}

func (f *fakeGoals) Get(ctx context.Context, goalID string) (*goal.Goal, error) {
	return &goal.Goal{ID: goalID, OwnerID: "user-1", Title: "Goal"}, nil
}

type fakeJobs struct {
	started  []string
	finished map[string]error
}

func (f *fakeJobs) StartJob(ctx context.Context, jobID string) error {
	f.started = append(f.started, jobID)
	return nil
}

func (f *fakeJobs) FinishJob(ctx context.Context, jobID string, runErr error) error {
	if f.finished == nil {
		f.finished = map[string]error{}
	}
	f.finished[jobID] = runErr
	return nil
}

func TestHandleFillGaps(t *testing.T) {
	filler := &fakeGapFiller{}
	jobs := &fakeJobs{}
	h := NewHandler(HandlerParams{Trackers: filler, Goals: &fakeGoals{}, Jobs: jobs})

	tk, err := task.NewJSONTask(taskname.TrackerFillGaps, maintenance.FillGapsPayload{
		JobID: "job-1", TrackerID: "tracker-1", Start: "2024-03-01", End: "2024-03-09", MarkMissed: true,
	})
	require.NoError(t, err)

	require.NoError(t, h.HandleFillGaps(context.Background(), tk))
	require.Equal(t, "tracker-1", filler.trackerID)
	require.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), filler.start)
	require.Equal(t, time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC), filler.end)
	require.True(t, filler.markMissed)
	require.Equal(t, []string{"job-1"}, jobs.started)
	require.NoError(t, jobs.finished["job-1"])
}

func TestHandleFillGapsBadDateSkipsRetry(t *testing.T) {
	jobs := &fakeJobs{}
	h := NewHandler(HandlerParams{Trackers: &fakeGapFiller{}, Goals: &fakeGoals{}, Jobs: jobs})

	tk, err := task.NewJSONTask(taskname.TrackerFillGaps, maintenance.FillGapsPayload{JobID: "job-1", Start: "yesterday", End: "2024-03-09"})
	require.NoError(t, err)

	err = h.HandleFillGaps(context.Background(), tk)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Error(t, jobs.finished["job-1"])
}

func TestHandleFillGapsMissingTrackerSkipsRetry(t *testing.T) {
	filler := &fakeGapFiller{err: errutil.NotFound("tracker not found", nil)}
	h := NewHandler(HandlerParams{Trackers: filler, Goals: &fakeGoals{}, Jobs: &fakeJobs{}})

	tk, err := task.NewJSONTask(taskname.TrackerFillGaps, maintenance.FillGapsPayload{TrackerID: "gone", Start: "2024-03-01", End: "2024-03-02"})
	require.NoError(t, err)

	require.ErrorIs(t, h.HandleFillGaps(context.Background(), tk), asynq.SkipRetry)
}

func TestHandleRecalculateRetriesTransientErrors(t *testing.T) {
	h := NewHandler(HandlerParams{Trackers: &fakeGapFiller{}, Goals: &fakeGoals{err: errors.New("connection reset")}, Jobs: &fakeJobs{}})

	tk, err := task.NewJSONTask(taskname.GoalRecalculate, maintenance.RecalculatePayload{JobID: "job-1", GoalID: "goal-1"})
	require.NoError(t, err)

	err = h.HandleRecalculate(context.Background(), tk)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleRecalculateNotifiesAchievement(t *testing.T) {
	notifier := notification.NewMockNotifier(gomock.NewController(t))
	target := int64(5)
	goals := &fakeGoals{progress: &goal.Progress{GoalID: "goal-1", CurrentValue: 5, TargetValue: &target, Status: goal.StatusAchieved, AchievedNow: true}}
	h := NewHandler(HandlerParams{
		Trackers:   &fakeGapFiller{},
		Goals:      goals,
		Jobs:       &fakeJobs{},
		Dispatcher: NewDispatcher(DispatcherParams{Notifier: notifier}),
	})

	notifier.EXPECT().GoalAchieved(gomock.Any(), notification.GoalAchieved{
		GoalID: "goal-1", OwnerID: "user-1", Title: "Goal", TargetValue: 5, CurrentValue: 5,
	}).Return(nil)

	tk, err := task.NewJSONTask(taskname.GoalRecalculate, maintenance.RecalculatePayload{GoalID: "goal-1"})
	require.NoError(t, err)
	require.NoError(t, h.HandleRecalculate(context.Background(), tk))
}

func TestHandleRecalculateMalformedPayload(t *testing.T) {
	h := NewHandler(HandlerParams{Trackers: &fakeGapFiller{}, Goals: &fakeGoals{}, Jobs: &fakeJobs{}})

	err := h.HandleRecalculate(context.Background(), asynq.NewTask(taskname.GoalRecalculate, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
