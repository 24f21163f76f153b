package engine

import (
	"context"
	"time"

	"habitcore/pkg/errutil"
	"habitcore/services/goal"
	"habitcore/services/ledger"
	"habitcore/services/period"
	"habitcore/services/preference"
	"habitcore/services/recalc"
	"habitcore/services/streak"
	"habitcore/services/tracker"

	"go.uber.org/fx"
)

var errPreferencesReadOnly = errutil.Internal("preference store is not configured", nil)

// Engine is the call surface request handlers use. Each method is one
// synchronous, transactional operation.
type Engine struct {
	trackers   *tracker.Service
	ledger     *ledger.Service
	streaks    *streak.Service
	goals      *goal.Service
	prefs      *preference.Service
	dispatcher *recalc.Dispatcher
}

type Params struct {
	fx.In
	Trackers   *tracker.Service
	Ledger     *ledger.Service
	Streaks    *streak.Service
	Goals      *goal.Service
	Prefs      *preference.Service `optional:"true"`
	Dispatcher *recalc.Dispatcher  `optional:"true"`
}

func New(p Params) *Engine {
	return &Engine{
		trackers:   p.Trackers,
		ledger:     p.Ledger,
		streaks:    p.Streaks,
		goals:      p.Goals,
		prefs:      p.Prefs,
		dispatcher: p.Dispatcher,
	}
}

func (e *Engine) GetOrCreateInstance(ctx context.Context, trackerID string, date time.Time) (*tracker.InstanceView, error) {
	return e.trackers.GetOrCreateInstance(ctx, trackerID, date)
}

// CreateChallenge materializes duration consecutive periods and, with a
// title, a goal of one completion per period.
func (e *Engine) CreateChallenge(ctx context.Context, trackerID string, start time.Time, duration int, goalTitle string) (*tracker.ChallengeResult, error) {
	return e.trackers.CreateMultiPeriodSet(ctx, trackerID, start, duration, goalTitle)
}

func (e *Engine) FillGaps(ctx context.Context, trackerID string, start, end time.Time, markMissed bool) ([]*tracker.InstanceView, error) {
	return e.trackers.FillGaps(ctx, trackerID, start, end, markMissed)
}

func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*tracker.TrackerInstance, error) {
	return e.trackers.GetInstance(ctx, instanceID)
}

// ListInstances returns the tracker's periods with tracking date in
// [from, to], newest first.
func (e *Engine) ListInstances(ctx context.Context, trackerID string, from, to time.Time, limit int) ([]*tracker.TrackerInstance, error) {
	return e.trackers.ListInstances(ctx, trackerID, from, to, limit)
}

func (e *Engine) ChangeRecurrenceMode(ctx context.Context, trackerID string, mode period.Mode, customUnit period.Unit) (*tracker.ModeChangeResult, error) {
	return e.trackers.ChangeRecurrenceMode(ctx, trackerID, mode, customUnit)
}

// SetTaskStatus writes the status and recomputes mapped goals in the same
// transaction; notifications go out after commit.
func (e *Engine) SetTaskStatus(ctx context.Context, taskID string, status tracker.TaskStatus) (*ledger.TaskView, error) {
	return e.ledger.SetStatus(ctx, taskID, status)
}

func (e *Engine) MarkMissed(ctx context.Context, instanceIDs ...string) (int, error) {
	return e.ledger.MarkMissed(ctx, instanceIDs)
}

// CalculateStreak evaluates the streak as of asOf, or the owner's today when
// nil. A nil threshold uses the owner's preference.
func (e *Engine) CalculateStreak(ctx context.Context, trackerID string, asOf *time.Time, threshold *float64) (*streak.Result, error) {
	return e.streaks.Calculate(ctx, trackerID, asOf, threshold)
}

func (e *Engine) UpdateGoalProgress(ctx context.Context, goalID string) (*goal.Progress, error) {
	p, err := e.goals.Update(ctx, goalID)
	if err != nil {
		return nil, err
	}
	return p, e.announce(ctx, p)
}

// announce hands a goal that became achieved in a committed recomputation to
// the dispatcher.
func (e *Engine) announce(ctx context.Context, p *goal.Progress) error {
	if !p.AchievedNow || e.dispatcher == nil {
		return nil
	}
	g, err := e.goals.Get(ctx, p.GoalID)
	if err != nil {
		return err
	}
	e.dispatcher.GoalUpdated(ctx, g, p)
	return nil
}

func (e *Engine) CreateTracker(ctx context.Context, p tracker.CreateTrackerParams) (*tracker.TrackerDefinition, error) {
	return e.trackers.CreateTracker(ctx, p)
}

func (e *Engine) ArchiveTracker(ctx context.Context, trackerID string) error {
	return e.trackers.ArchiveTracker(ctx, trackerID)
}

func (e *Engine) DeleteTracker(ctx context.Context, trackerID string) error {
	return e.trackers.DeleteTracker(ctx, trackerID)
}

func (e *Engine) AddTemplate(ctx context.Context, trackerID string, p tracker.TemplateParams) (*tracker.TaskTemplate, error) {
	return e.trackers.AddTemplate(ctx, trackerID, p)
}

func (e *Engine) UpdateTemplate(ctx context.Context, templateID string, u tracker.TemplateUpdate) (*tracker.TaskTemplate, error) {
	return e.trackers.UpdateTemplate(ctx, templateID, u)
}

func (e *Engine) DeleteTemplate(ctx context.Context, templateID string) error {
	return e.trackers.DeleteTemplate(ctx, templateID)
}

func (e *Engine) CreateGoal(ctx context.Context, p goal.CreateGoalParams) (*goal.Goal, error) {
	return e.goals.CreateGoal(ctx, p)
}

func (e *Engine) GetGoal(ctx context.Context, goalID string) (*goal.Goal, error) {
	return e.goals.Get(ctx, goalID)
}

func (e *Engine) MapTemplate(ctx context.Context, goalID, templateID string, weight float64) (*goal.Progress, error) {
	p, err := e.goals.MapTemplate(ctx, goalID, templateID, weight)
	if err != nil {
		return nil, err
	}
	return p, e.announce(ctx, p)
}

func (e *Engine) UnmapTemplate(ctx context.Context, goalID, templateID string) (*goal.Progress, error) {
	p, err := e.goals.UnmapTemplate(ctx, goalID, templateID)
	if err != nil {
		return nil, err
	}
	return p, e.announce(ctx, p)
}

func (e *Engine) SetGoalTarget(ctx context.Context, goalID string, target *int64) (*goal.Progress, error) {
	p, err := e.goals.SetTarget(ctx, goalID, target)
	if err != nil {
		return nil, err
	}
	return p, e.announce(ctx, p)
}

func (e *Engine) AbandonGoal(ctx context.Context, goalID string) error {
	return e.goals.Abandon(ctx, goalID)
}

func (e *Engine) TaskHistory(ctx context.Context, taskID string) ([]*ledger.StatusEntry, error) {
	return e.ledger.History(ctx, taskID)
}

func (e *Engine) SetPreferences(ctx context.Context, pref preference.UserPreference) error {
	if e.prefs == nil {
		return errPreferencesReadOnly
	}
	return e.prefs.Set(ctx, pref)
}
