package recalc

import (
	"context"
	"sort"

	"habitcore/pkg/logger"
	"habitcore/services/goal"
	"habitcore/services/ledger"
	"habitcore/services/notification"
	"habitcore/services/streak"
	"habitcore/services/tracker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var notificationsFired = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "habitcore_notifications_fired_total",
	Help: "Notifications handed to the notifier after commit.",
}, []string{"kind"})

// Goals is the goal recomputation used inside status writes and tracker
// mutations.
type Goals interface {
	RecomputeForTemplates(ctx context.Context, tx *gorm.DB, templateIDs []string) ([]*goal.Progress, error)
	CreateLinkedGoalTx(ctx context.Context, tx *gorm.DB, lg tracker.LinkedGoal) (*goal.Progress, error)
}

// Streaks evaluates streaks through the writing transaction.
type Streaks interface {
	CalculateTx(ctx context.Context, tx *gorm.DB, trackerID string, opts streak.Options) (*streak.Result, error)
}

// Dispatcher keeps goals in step with task status writes and announces
// achievements and streak milestones once the write has committed.
type Dispatcher struct {
	goals    Goals
	streaks  Streaks
	notifier notification.Notifier
}

type DispatcherParams struct {
	fx.In
	Goals    Goals
	Streaks  Streaks
	Notifier notification.Notifier
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{goals: p.Goals, streaks: p.Streaks, notifier: p.Notifier}
}

// Outcome is what a status write produced beyond the task itself.
type Outcome struct {
	Goals      []*goal.Progress
	Achieved   []notification.GoalAchieved
	Milestones []notification.StreakMilestone
}

func (d *Dispatcher) OnStatusChanged(ctx context.Context, tx *gorm.DB, changes []ledger.Change) (ledger.AfterCommit, error) {
	out, err := d.Evaluate(ctx, tx, changes)
	if err != nil {
		return nil, err
	}
	return d.afterCommit(out), nil
}

// RecomputeForTemplatesTx recomputes goals touched by a tracker mutation and
// defers their achievement notifications until after commit.
func (d *Dispatcher) RecomputeForTemplatesTx(ctx context.Context, tx *gorm.DB, templateIDs []string) (tracker.AfterCommit, error) {
	progress, err := d.goals.RecomputeForTemplates(ctx, tx, templateIDs)
	if err != nil {
		return nil, err
	}
	achieved, err := d.achieved(ctx, tx, progress)
	if err != nil {
		return nil, err
	}
	return d.afterCommit(&Outcome{Goals: progress, Achieved: achieved}), nil
}

// CreateLinkedGoalTx creates a challenge goal. A challenge over periods that
// are already complete is achieved on creation.
func (d *Dispatcher) CreateLinkedGoalTx(ctx context.Context, tx *gorm.DB, lg tracker.LinkedGoal) (string, tracker.AfterCommit, error) {
	p, err := d.goals.CreateLinkedGoalTx(ctx, tx, lg)
	if err != nil {
		return "", nil, err
	}
	achieved, err := d.achieved(ctx, tx, []*goal.Progress{p})
	if err != nil {
		return "", nil, err
	}
	return p.GoalID, d.afterCommit(&Outcome{Goals: []*goal.Progress{p}, Achieved: achieved}), nil
}

func (d *Dispatcher) afterCommit(out *Outcome) func(ctx context.Context) {
	if len(out.Achieved) == 0 && len(out.Milestones) == 0 {
		return nil
	}
	return func(ctx context.Context) { d.Notify(ctx, out) }
}

// Evaluate recomputes the goals mapped to the changed templates and detects
// streak milestones crossed by new completions. Goal failures abort the
// write; streak failures are logged.
func (d *Dispatcher) Evaluate(ctx context.Context, tx *gorm.DB, changes []ledger.Change) (*Outcome, error) {
	out := &Outcome{}

	templateIDs := make([]string, 0, len(changes))
	seen := map[string]struct{}{}
	for _, c := range changes {
		if _, ok := seen[c.TemplateID]; ok {
			continue
		}
		seen[c.TemplateID] = struct{}{}
		templateIDs = append(templateIDs, c.TemplateID)
	}

	progress, err := d.goals.RecomputeForTemplates(ctx, tx, templateIDs)
	if err != nil {
		return nil, err
	}
	out.Goals = progress

	if out.Achieved, err = d.achieved(ctx, tx, progress); err != nil {
		return nil, err
	}
	out.Milestones = d.milestones(ctx, tx, changes)
	return out, nil
}

// achieved builds the events of goals that transitioned into achieved.
func (d *Dispatcher) achieved(ctx context.Context, tx *gorm.DB, progress []*goal.Progress) ([]notification.GoalAchieved, error) {
	var out []notification.GoalAchieved
	for _, p := range progress {
		if p == nil || !p.AchievedNow {
			continue
		}
		var g goal.Goal
		if err := tx.WithContext(ctx).Where("id = ?", p.GoalID).Take(&g).Error; err != nil {
			return nil, err
		}
		out = append(out, achievedEvent(&g, p))
	}
	return out, nil
}

func achievedEvent(g *goal.Goal, p *goal.Progress) notification.GoalAchieved {
	e := notification.GoalAchieved{
		GoalID:       g.ID,
		OwnerID:      g.OwnerID,
		Title:        g.Title,
		CurrentValue: p.CurrentValue,
	}
	if p.TargetValue != nil {
		e.TargetValue = *p.TargetValue
	}
	if g.AchievedAt != nil {
		e.AchievedAt = *g.AchievedAt
	}
	return e
}

// GoalUpdated announces a goal that was recomputed outside a status write.
func (d *Dispatcher) GoalUpdated(ctx context.Context, g *goal.Goal, p *goal.Progress) {
	if !p.AchievedNow {
		return
	}
	d.Notify(ctx, &Outcome{Goals: []*goal.Progress{p}, Achieved: []notification.GoalAchieved{achievedEvent(g, p)}})
}

// milestones compares each touched tracker's streak with the streak it had
// without the new completions.
func (d *Dispatcher) milestones(ctx context.Context, tx *gorm.DB, changes []ledger.Change) []notification.StreakMilestone {
	deltas := map[string]map[string]int64{}
	for _, c := range changes {
		if c.To != tracker.StatusDone || c.From == tracker.StatusDone {
			continue
		}
		if deltas[c.TrackerID] == nil {
			deltas[c.TrackerID] = map[string]int64{}
		}
		deltas[c.TrackerID][c.TrackerInstanceID]--
	}

	trackerIDs := make([]string, 0, len(deltas))
	for id := range deltas {
		trackerIDs = append(trackerIDs, id)
	}
	sort.Strings(trackerIDs)

	var out []notification.StreakMilestone
	for _, id := range trackerIDs {
		cur, err := d.streaks.CalculateTx(ctx, tx, id, streak.Options{})
		if err != nil {
			logger.FromContext(ctx).Warn("streak evaluation failed", zap.String("tracker_id", id), zap.Error(err))
			continue
		}
		prev, err := d.streaks.CalculateTx(ctx, tx, id, streak.Options{AsOf: &cur.AsOf, DoneDelta: deltas[id]})
		if err != nil {
			logger.FromContext(ctx).Warn("streak evaluation failed", zap.String("tracker_id", id), zap.Error(err))
			continue
		}

		m, ok := streak.CrossedMilestone(prev.CurrentStreak, cur.CurrentStreak)
		if !ok || cur.CurrentRunStart == nil {
			continue
		}
		out = append(out, notification.StreakMilestone{
			TrackerID:     id,
			OwnerID:       cur.OwnerID,
			Milestone:     m,
			CurrentStreak: cur.CurrentStreak,
			RunStart:      *cur.CurrentRunStart,
			AsOf:          cur.AsOf,
		})
	}
	return out
}

// Notify delivers an outcome's events. Delivery errors are logged.
func (d *Dispatcher) Notify(ctx context.Context, out *Outcome) {
	if d.notifier == nil {
		return
	}
	for _, e := range out.Achieved {
		if err := d.notifier.GoalAchieved(ctx, e); err != nil {
			logger.FromContext(ctx).Error("failed to notify goal achieved", zap.String("goal_id", e.GoalID), zap.Error(err))
			continue
		}
		notificationsFired.WithLabelValues("goal_achieved").Inc()
	}
	for _, e := range out.Milestones {
		if err := d.notifier.StreakMilestone(ctx, e); err != nil {
			logger.FromContext(ctx).Error("failed to notify streak milestone", zap.String("tracker_id", e.TrackerID), zap.Error(err))
			continue
		}
		notificationsFired.WithLabelValues("streak_milestone").Inc()
	}
}
