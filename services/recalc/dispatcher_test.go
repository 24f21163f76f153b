package recalc

import (
	"context"
	"testing"
	"time"

	"habitcore/services/goal"
	"habitcore/services/ledger"
	"habitcore/services/notification"
	"habitcore/services/period"
	"habitcore/services/preference"
	"habitcore/services/streak"
	"habitcore/services/testutil"
	"habitcore/services/tracker"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type harness struct {
	db       *gorm.DB
	trackers *tracker.Service
	goals    *goal.Service
	ledger   *ledger.Service
	notifier *notification.MockNotifier
}

func newHarness(t *testing.T, today time.Time) *harness {
	t.Helper()
	models := append(tracker.Models(), goal.Models()...)
	models = append(models, ledger.Models()...)
	db := testutil.NewTestDB(t, models...)

	node := testutil.NewNode(t)
	c := testutil.NewClock(today.Year(), today.Month(), today.Day())
	prefs := preference.Fixed{Location: time.UTC, WeekStartDay: time.Monday, StreakThresholdPercent: 80}

	goals := goal.NewService(goal.Params{DB: db, Node: node, Clock: c, Prefs: prefs})
	streaks := streak.NewService(streak.Params{DB: db, Clock: c, Prefs: prefs})
	notifier := notification.NewMockNotifier(gomock.NewController(t))
	d := NewDispatcher(DispatcherParams{Goals: goals, Streaks: streaks, Notifier: notifier})

	return &harness{
		db:       db,
		trackers: tracker.NewService(tracker.Params{DB: db, Node: node, Clock: c, Prefs: prefs, Goals: d}),
		goals:    goals,
		ledger:   ledger.NewService(ledger.ServiceParams{DB: db, Node: node, Clock: c, Dispatcher: d}),
		notifier: notifier,
	}
}

// dailyTracker creates a daily tracker with one template and its instances for [from, to].
func (h *harness) dailyTracker(t *testing.T, from, to time.Time) (*tracker.TrackerDefinition, *tracker.TaskTemplate, []*tracker.InstanceView) {
	t.Helper()
	ctx := context.Background()
	tr, err := h.trackers.CreateTracker(ctx, tracker.CreateTrackerParams{OwnerID: "user-1", Name: "Read", RecurrenceMode: period.ModeDaily})
	require.NoError(t, err)
	tmpl, err := h.trackers.AddTemplate(ctx, tr.ID, tracker.TemplateParams{Description: "Read 10 pages", Points: 1, IncludeInGoal: true, IsRecurring: true})
	require.NoError(t, err)
	views, err := h.trackers.FillGaps(ctx, tr.ID, from, to, false)
	require.NoError(t, err)
	return tr, tmpl, views
}

func TestStatusWriteAchievesGoalAndCrossesMilestone(t *testing.T) {
	h := newHarness(t, testutil.Date(2024, time.January, 7))
	ctx := context.Background()
	tr, tmpl, views := h.dailyTracker(t, testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 7))
	require.Len(t, views, 7)

	target := int64(7)
	g, err := h.goals.CreateGoal(ctx, goal.CreateGoalParams{OwnerID: "user-1", TrackerID: tr.ID, Title: "Read all week", TargetValue: &target})
	require.NoError(t, err)
	_, err = h.goals.MapTemplate(ctx, g.ID, tmpl.ID, 1)
	require.NoError(t, err)

	h.notifier.EXPECT().GoalAchieved(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e notification.GoalAchieved) error {
			require.Equal(t, g.ID, e.GoalID)
			require.Equal(t, int64(7), e.TargetValue)
			require.Equal(t, "user-1", e.OwnerID)
			return nil
		}).Times(1)
	h.notifier.EXPECT().StreakMilestone(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e notification.StreakMilestone) error {
			require.Equal(t, 7, e.Milestone)
			require.Equal(t, tr.ID, e.TrackerID)
			require.Equal(t, testutil.Date(2024, time.January, 1), e.RunStart)
			return nil
		}).Times(1)

	for _, v := range views {
		_, err := h.ledger.SetStatus(ctx, v.Instance.Tasks[0].ID, tracker.StatusDone)
		require.NoError(t, err)
	}

	stored, err := h.goals.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, goal.StatusAchieved, stored.Status)
	require.Equal(t, int64(7), stored.CurrentValue)
	require.InDelta(t, 100, stored.Progress, 1e-9)
}

func TestStatusWriteUnachievesWithoutNotifying(t *testing.T) {
	h := newHarness(t, testutil.Date(2024, time.January, 2))
	ctx := context.Background()
	tr, tmpl, views := h.dailyTracker(t, testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 2))

	target := int64(1)
	g, err := h.goals.CreateGoal(ctx, goal.CreateGoalParams{OwnerID: "user-1", TrackerID: tr.ID, Title: "Once", TargetValue: &target})
	require.NoError(t, err)
	_, err = h.goals.MapTemplate(ctx, g.ID, tmpl.ID, 1)
	require.NoError(t, err)

	h.notifier.EXPECT().GoalAchieved(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	task := views[0].Instance.Tasks[0].ID
	for _, s := range []tracker.TaskStatus{tracker.StatusDone, tracker.StatusTodo, tracker.StatusDone} {
		_, err := h.ledger.SetStatus(ctx, task, s)
		require.NoError(t, err)
	}

	stored, err := h.goals.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, goal.StatusAchieved, stored.Status)
}

func TestEvaluateWithoutMappedGoals(t *testing.T) {
	h := newHarness(t, testutil.Date(2024, time.January, 1))
	ctx := context.Background()
	_, _, views := h.dailyTracker(t, testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 1))

	view, err := h.ledger.SetStatus(ctx, views[0].Instance.Tasks[0].ID, tracker.StatusDone)
	require.NoError(t, err)
	require.True(t, view.Changed)
}

func TestChallengeOverCompletedPeriodsIsAnnounced(t *testing.T) {
	h := newHarness(t, testutil.Date(2024, time.January, 3))
	ctx := context.Background()
	tr, _, views := h.dailyTracker(t, testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 3))
	for _, v := range views {
		_, err := h.ledger.SetStatus(ctx, v.Instance.Tasks[0].ID, tracker.StatusDone)
		require.NoError(t, err)
	}

	h.notifier.EXPECT().GoalAchieved(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e notification.GoalAchieved) error {
			require.Equal(t, int64(3), e.TargetValue)
			require.Equal(t, int64(3), e.CurrentValue)
			require.Equal(t, "Three days", e.Title)
			return nil
		}).Times(1)

	res, err := h.trackers.CreateMultiPeriodSet(ctx, tr.ID, testutil.Date(2024, time.January, 1), 3, "Three days")
	require.NoError(t, err)

	g, err := h.goals.Get(ctx, res.GoalID)
	require.NoError(t, err)
	require.Equal(t, goal.StatusAchieved, g.Status)
}

func TestTrackerRecomputeAnnouncesAchievement(t *testing.T) {
	h := newHarness(t, testutil.Date(2024, time.January, 2))
	ctx := context.Background()
	tr, tmpl, views := h.dailyTracker(t, testutil.Date(2024, time.January, 1), testutil.Date(2024, time.January, 1))

	target := int64(5)
	g, err := h.goals.CreateGoal(ctx, goal.CreateGoalParams{OwnerID: "user-1", TrackerID: tr.ID, Title: "Five", TargetValue: &target})
	require.NoError(t, err)
	_, err = h.goals.MapTemplate(ctx, g.ID, tmpl.ID, 1)
	require.NoError(t, err)
	_, err = h.ledger.SetStatus(ctx, views[0].Instance.Tasks[0].ID, tracker.StatusDone)
	require.NoError(t, err)

	// lowered without a recomputation
	require.NoError(t, h.db.Model(&goal.Goal{}).Where("id = ?", g.ID).Update("target_value", 1).Error)

	h.notifier.EXPECT().GoalAchieved(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e notification.GoalAchieved) error {
			require.Equal(t, g.ID, e.GoalID)
			require.Equal(t, int64(1), e.CurrentValue)
			return nil
		}).Times(1)

	view, err := h.trackers.GetOrCreateInstance(ctx, tr.ID, testutil.Date(2024, time.January, 2))
	require.NoError(t, err)
	require.True(t, view.Created)

	stored, err := h.goals.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, goal.StatusAchieved, stored.Status)
}
