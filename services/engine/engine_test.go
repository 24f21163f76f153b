package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"habitcore/pkg/config"
	"habitcore/pkg/errutil"
	"habitcore/services/goal"
	"habitcore/services/period"
	"habitcore/services/preference"
	"habitcore/services/testutil"
	"habitcore/services/tracker"

	"habitcore/services/notification"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

type recordingNotifier struct {
	mu       sync.Mutex
	achieved []notification.GoalAchieved
}

func (r *recordingNotifier) GoalAchieved(ctx context.Context, e notification.GoalAchieved) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.achieved = append(r.achieved, e)
	return nil
}

func (r *recordingNotifier) StreakMilestone(ctx context.Context, e notification.StreakMilestone) error {
	return nil
}

func (r *recordingNotifier) goalIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.achieved))
	for _, e := range r.achieved {
		ids = append(ids, e.GoalID)
	}
	return ids
}

func newRecordingEngine(t *testing.T, c clock.Clock) (*Engine, *recordingNotifier) {
	t.Helper()
	rec := &recordingNotifier{}
	e := newTestEngine(t, c, fx.Decorate(func(notification.Notifier) notification.Notifier { return rec }))
	return e, rec
}

func newTestEngine(t *testing.T, c clock.Clock, opts ...fx.Option) *Engine {
	t.Helper()

	cfg := &config.Config{}
	cfg.Engine.DefaultTimezone = "UTC"
	cfg.Engine.StreakThreshold = 80
	cfg.Engine.Notifier = "log"

	var e *Engine
	app := fxtest.New(t,
		fx.NopLogger,
		fx.Supply(testutil.NewTestDB(t), testutil.NewNode(t), cfg),
		fx.Provide(func() clock.Clock { return c }),
		Module,
		fx.Options(opts...),
		fx.Populate(&e),
	)
	app.RequireStart()
	t.Cleanup(app.RequireStop)
	return e
}

func TestFirstWeekScenario(t *testing.T) {
	c := testutil.NewClock(2024, time.January, 7)
	e := newTestEngine(t, c)
	ctx := context.Background()

	tr, err := e.CreateTracker(ctx, tracker.CreateTrackerParams{OwnerID: "user-1", Name: "Read", RecurrenceMode: period.ModeDaily})
	require.NoError(t, err)
	_, err = e.AddTemplate(ctx, tr.ID, tracker.TemplateParams{Description: "Read 10 pages", Points: 1, IncludeInGoal: true, IsRecurring: true})
	require.NoError(t, err)

	challenge, err := e.CreateChallenge(ctx, tr.ID, testutil.Date(2024, time.January, 1), 7, "First week")
	require.NoError(t, err)
	require.Len(t, challenge.Instances, 7)
	require.NotEmpty(t, challenge.GoalID)

	tasks := make([]string, 0, 7)
	for _, v := range challenge.Instances {
		require.Len(t, v.Instance.Tasks, 1)
		tasks = append(tasks, v.Instance.Tasks[0].ID)
	}

	for i, id := range tasks {
		status := tracker.StatusDone
		if i == 3 {
			status = tracker.StatusSkipped
		}
		view, err := e.SetTaskStatus(ctx, id, status)
		require.NoError(t, err)
		require.True(t, view.Changed)
	}

	asOf := testutil.Date(2024, time.January, 7)
	full := 100.0
	s, err := e.CalculateStreak(ctx, tr.ID, &asOf, &full)
	require.NoError(t, err)
	require.Equal(t, 3, s.CurrentStreak)
	require.Equal(t, 3, s.LongestStreak)
	require.True(t, s.Active)
	require.Equal(t, testutil.Date(2024, time.January, 5), *s.CurrentRunStart)

	g, err := e.GetGoal(ctx, challenge.GoalID)
	require.NoError(t, err)
	require.Equal(t, int64(6), g.CurrentValue)
	require.InDelta(t, 600.0/7, g.Progress, 0.001)
	require.Equal(t, goal.StatusActive, g.Status)

	_, err = e.SetTaskStatus(ctx, tasks[3], tracker.StatusDone)
	require.NoError(t, err)

	g, err = e.GetGoal(ctx, challenge.GoalID)
	require.NoError(t, err)
	require.Equal(t, goal.StatusAchieved, g.Status)
	require.NotNil(t, g.AchievedAt)

	s, err = e.CalculateStreak(ctx, tr.ID, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 7, s.CurrentStreak)

	p, err := e.UpdateGoalProgress(ctx, challenge.GoalID)
	require.NoError(t, err)
	require.False(t, p.AchievedNow)
	require.Equal(t, goal.StatusAchieved, p.Status)
}

func TestStatusOscillationCountsOnce(t *testing.T) {
	c := testutil.NewClock(2024, time.January, 7)
	e := newTestEngine(t, c)
	ctx := context.Background()

	tr, err := e.CreateTracker(ctx, tracker.CreateTrackerParams{OwnerID: "user-1", Name: "Walk", RecurrenceMode: period.ModeDaily})
	require.NoError(t, err)
	tmpl, err := e.AddTemplate(ctx, tr.ID, tracker.TemplateParams{Description: "Walk 5k", Points: 3, IsRecurring: true})
	require.NoError(t, err)
	view, err := e.GetOrCreateInstance(ctx, tr.ID, testutil.Date(2024, time.January, 7))
	require.NoError(t, err)
	taskID := view.Instance.Tasks[0].ID

	target := int64(1)
	g, err := e.CreateGoal(ctx, goal.CreateGoalParams{OwnerID: "user-1", Title: "Walk once", TargetValue: &target})
	require.NoError(t, err)
	_, err = e.MapTemplate(ctx, g.ID, tmpl.ID, 1)
	require.NoError(t, err)

	first, err := e.SetTaskStatus(ctx, taskID, tracker.StatusDone)
	require.NoError(t, err)
	firstDone := *first.Task.FirstCompletedAt

	for i := 0; i < 3; i++ {
		c.Add(time.Minute)
		_, err = e.SetTaskStatus(ctx, taskID, tracker.StatusTodo)
		require.NoError(t, err)
		c.Add(time.Minute)
		_, err = e.SetTaskStatus(ctx, taskID, tracker.StatusDone)
		require.NoError(t, err)
	}

	p, err := e.UpdateGoalProgress(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), p.CurrentValue)
	require.Equal(t, 100.0, p.Progress)

	history, err := e.TaskHistory(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, history, 7)
	require.True(t, history[6].OccurredAt.After(firstDone))

	last, err := e.SetTaskStatus(ctx, taskID, tracker.StatusDone)
	require.NoError(t, err)
	require.False(t, last.Changed)
	require.True(t, firstDone.Equal(*last.Task.FirstCompletedAt))
}

func TestPreferencesDriveStreakThreshold(t *testing.T) {
	c := testutil.NewClock(2024, time.January, 7)
	e := newTestEngine(t, c)
	ctx := context.Background()

	tr, err := e.CreateTracker(ctx, tracker.CreateTrackerParams{OwnerID: "user-2", Name: "Chores", RecurrenceMode: period.ModeDaily})
	require.NoError(t, err)
	for _, d := range []string{"Dishes", "Laundry"} {
		_, err := e.AddTemplate(ctx, tr.ID, tracker.TemplateParams{Description: d, IsRecurring: true})
		require.NoError(t, err)
	}
	view, err := e.GetOrCreateInstance(ctx, tr.ID, testutil.Date(2024, time.January, 7))
	require.NoError(t, err)
	_, err = e.SetTaskStatus(ctx, view.Instance.Tasks[0].ID, tracker.StatusDone)
	require.NoError(t, err)

	s, err := e.CalculateStreak(ctx, tr.ID, nil, nil)
	require.NoError(t, err)
	require.Zero(t, s.CurrentStreak)

	half := 50.0
	require.NoError(t, e.SetPreferences(ctx, preference.UserPreference{UserID: "user-2", StreakThresholdPercent: &half}))

	s, err = e.CalculateStreak(ctx, tr.ID, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, s.CurrentStreak)
	require.Equal(t, 50.0, s.ThresholdPercent)
}

func TestDeleteTrackerDropsGoalContribution(t *testing.T) {
	c := testutil.NewClock(2024, time.January, 7)
	e := newTestEngine(t, c)
	ctx := context.Background()

	tr, err := e.CreateTracker(ctx, tracker.CreateTrackerParams{OwnerID: "user-1", Name: "Swim", RecurrenceMode: period.ModeWeekly})
	require.NoError(t, err)
	_, err = e.AddTemplate(ctx, tr.ID, tracker.TemplateParams{Description: "Swim 1k", IncludeInGoal: true, IsRecurring: true})
	require.NoError(t, err)
	challenge, err := e.CreateChallenge(ctx, tr.ID, testutil.Date(2024, time.January, 1), 2, "Two weeks")
	require.NoError(t, err)

	_, err = e.SetTaskStatus(ctx, challenge.Instances[0].Instance.Tasks[0].ID, tracker.StatusDone)
	require.NoError(t, err)
	g, err := e.GetGoal(ctx, challenge.GoalID)
	require.NoError(t, err)
	require.Equal(t, int64(1), g.CurrentValue)
	require.Equal(t, "weeks", g.Unit)

	require.NoError(t, e.DeleteTracker(ctx, tr.ID))

	g, err = e.GetGoal(ctx, challenge.GoalID)
	require.NoError(t, err)
	require.Zero(t, g.CurrentValue)
	require.Zero(t, g.Progress)

	_, err = e.GetOrCreateInstance(ctx, tr.ID, testutil.Date(2024, time.January, 8))
	require.True(t, errutil.IsNotFound(err))
}

func TestModelsCoverEveryTable(t *testing.T) {
	db := testutil.NewTestDB(t)
	require.NoError(t, Migrate(context.Background(), db))

	for _, table := range []string{"user_preferences", "tracker_definitions", "task_templates", "tracker_instances", "task_instances", "goals", "goal_task_mappings", "task_status_entries", "maintenance_jobs"} {
		require.True(t, db.Migrator().HasTable(table), table)
	}
}

// doneTasks creates a daily tracker with one template, materializes the given
// days and marks each occurrence DONE.
func doneTasks(t *testing.T, e *Engine, days ...int) (*tracker.TrackerDefinition, *tracker.TaskTemplate) {
	t.Helper()
	ctx := context.Background()
	tr, err := e.CreateTracker(ctx, tracker.CreateTrackerParams{OwnerID: "user-1", Name: "Read", RecurrenceMode: period.ModeDaily})
	require.NoError(t, err)
	tmpl, err := e.AddTemplate(ctx, tr.ID, tracker.TemplateParams{Description: "Read 10 pages", IsRecurring: true})
	require.NoError(t, err)
	for _, d := range days {
		view, err := e.GetOrCreateInstance(ctx, tr.ID, testutil.Date(2024, time.January, d))
		require.NoError(t, err)
		_, err = e.SetTaskStatus(ctx, view.Instance.Tasks[0].ID, tracker.StatusDone)
		require.NoError(t, err)
	}
	return tr, tmpl
}

func TestSetGoalTargetAnnouncesAchievement(t *testing.T) {
	e, rec := newRecordingEngine(t, testutil.NewClock(2024, time.January, 7))
	ctx := context.Background()
	tr, tmpl := doneTasks(t, e, 1, 2, 3)

	target := int64(10)
	g, err := e.CreateGoal(ctx, goal.CreateGoalParams{OwnerID: "user-1", TrackerID: tr.ID, Title: "Ten", TargetValue: &target})
	require.NoError(t, err)
	p, err := e.MapTemplate(ctx, g.ID, tmpl.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(3), p.CurrentValue)
	require.Empty(t, rec.goalIDs())

	lowered := int64(2)
	p, err = e.SetGoalTarget(ctx, g.ID, &lowered)
	require.NoError(t, err)
	require.True(t, p.AchievedNow)
	require.Equal(t, []string{g.ID}, rec.goalIDs())

	// already achieved: nothing new to announce
	_, err = e.UpdateGoalProgress(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, rec.goalIDs(), 1)
}

func TestMapTemplateAnnouncesAchievement(t *testing.T) {
	e, rec := newRecordingEngine(t, testutil.NewClock(2024, time.January, 7))
	ctx := context.Background()
	tr, tmpl := doneTasks(t, e, 5)

	target := int64(1)
	g, err := e.CreateGoal(ctx, goal.CreateGoalParams{OwnerID: "user-1", TrackerID: tr.ID, Title: "Once", TargetValue: &target})
	require.NoError(t, err)

	p, err := e.MapTemplate(ctx, g.ID, tmpl.ID, 1)
	require.NoError(t, err)
	require.True(t, p.AchievedNow)
	require.Equal(t, []string{g.ID}, rec.goalIDs())

	p, err = e.UnmapTemplate(ctx, g.ID, tmpl.ID)
	require.NoError(t, err)
	require.Equal(t, goal.StatusActive, p.Status)
	require.Len(t, rec.goalIDs(), 1)
}

func TestChallengeOverDoneDaysAnnouncesAchievement(t *testing.T) {
	e, rec := newRecordingEngine(t, testutil.NewClock(2024, time.January, 7))
	ctx := context.Background()
	tr, _ := doneTasks(t, e, 1, 2)
	_, err := e.AddTemplate(ctx, tr.ID, tracker.TemplateParams{Description: "Journal", IncludeInGoal: true, IsRecurring: true})
	require.NoError(t, err)

	view, err := e.GetOrCreateInstance(ctx, tr.ID, testutil.Date(2024, time.January, 3))
	require.NoError(t, err)
	require.Len(t, view.Instance.Tasks, 2)
	for _, task := range view.Instance.Tasks {
		_, err := e.SetTaskStatus(ctx, task.ID, tracker.StatusDone)
		require.NoError(t, err)
	}

	res, err := e.CreateChallenge(ctx, tr.ID, testutil.Date(2024, time.January, 3), 1, "One day")
	require.NoError(t, err)
	require.Equal(t, []string{res.GoalID}, rec.goalIDs())
}
