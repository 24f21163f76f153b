package tracker

import (
	"context"
	"fmt"
	"time"

	"habitcore/pkg/db/option"
	"habitcore/pkg/errutil"
	"habitcore/pkg/logger"
	"habitcore/services/period"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	instancesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "habitcore_tracker_instances_created_total",
		Help: "Tracker instances materialized.",
	})
	instanceConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "habitcore_tracker_instance_conflicts_total",
		Help: "Concurrent instance creations resolved by reading the winner.",
	})
	tasksMarkedMissed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "habitcore_tracker_tasks_marked_missed_total",
		Help: "Task occurrences set to MISSED by gap filling.",
	})
)

type Warning string

const (
	WarningBackdated Warning = "backdated"
	WarningFuture    Warning = "future"
	WarningZeroTasks Warning = "zero_tasks"
	WarningLegacy    Warning = "legacy"
)

// InstanceView is a materialized period with its task occurrences.
type InstanceView struct {
	Instance *TrackerInstance
	Created  bool
	Warnings []Warning
}

type ModeChangeResult struct {
	OldMode     period.Mode
	NewMode     period.Mode
	LegacyCount int64
}

type ChallengeResult struct {
	Instances []*InstanceView
	GoalID    string
}

// generation is the per-call state shared by every period materialized for
// one tracker inside one transaction.
type generation struct {
	tracker   *TrackerDefinition
	unit      period.Unit
	today     time.Time
	templates []*TaskTemplate
	loaded    bool
	touched   map[string]struct{}
	after     []AfterCommit
}

func (s *Service) begin(ctx context.Context, tx *gorm.DB, trackerID string) (*generation, error) {
	t, err := s.loadTracker(ctx, tx, trackerID)
	if err != nil {
		return nil, err
	}
	unit, err := t.Unit()
	if err != nil {
		return nil, err
	}
	today, err := s.today(ctx, t)
	if err != nil {
		return nil, err
	}
	return &generation{tracker: t, unit: unit, today: today, touched: map[string]struct{}{}}, nil
}

func (g *generation) warnings(ref time.Time, inst *TrackerInstance) []Warning {
	var out []Warning
	ref = period.Normalize(ref)
	switch {
	case ref.Before(g.today):
		out = append(out, WarningBackdated)
	case ref.After(g.today):
		out = append(out, WarningFuture)
	}
	if len(inst.Tasks) == 0 {
		out = append(out, WarningZeroTasks)
	}
	if inst.Status == InstanceLegacy {
		out = append(out, WarningLegacy)
	}
	return out
}

func (s *Service) activeTemplates(ctx context.Context, tx *gorm.DB, g *generation) ([]*TaskTemplate, error) {
	if g.loaded {
		return g.templates, nil
	}
	var templates []*TaskTemplate
	err := tx.WithContext(ctx).
		Where("tracker_id = ? AND is_recurring = ?", g.tracker.ID, true).
		Order("weight ASC").Order("created_at ASC").Order("id ASC").
		Find(&templates).Error
	if err != nil {
		return nil, err
	}
	g.templates, g.loaded = templates, true
	return templates, nil
}

func (s *Service) findInstance(ctx context.Context, tx *gorm.DB, trackerID string, trackingDate time.Time) (*TrackerInstance, error) {
	var inst TrackerInstance
	err := tx.WithContext(ctx).
		Preload("Tasks", orderByCreated).
		Where("tracker_id = ? AND tracking_date = ?", trackerID, trackingDate).
		Take(&inst).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// materialize returns the instance for p, inserting it and its task snapshots
// when absent. The insert relies on the (tracker_id, tracking_date) unique
// index: a concurrent winner makes it a no-op and the winner's row is read back.
func (s *Service) materialize(ctx context.Context, tx *gorm.DB, g *generation, p period.Period) (*TrackerInstance, bool, error) {
	existing, err := s.findInstance(ctx, tx, g.tracker.ID, p.Start)
	if err != nil || existing != nil {
		return existing, false, err
	}

	if g.tracker.Status != TrackerActive {
		return nil, false, errutil.ValidationFailed(
			fmt.Sprintf("tracker is %s and no longer generates periods", g.tracker.Status), nil,
			errutil.WithField("tracker_id", g.tracker.ID))
	}

	inst := &TrackerInstance{
		ID:           s.node.Generate().String(),
		TrackerID:    g.tracker.ID,
		TrackingDate: p.Start,
		PeriodStart:  p.Start,
		PeriodEnd:    p.End,
		Status:       InstanceActive,
	}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(inst)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		instanceConflicts.Inc()
		winner, err := s.findInstance(ctx, tx, g.tracker.ID, p.Start)
		if err != nil {
			return nil, false, err
		}
		if winner == nil {
			return nil, false, errutil.Conflict("instance creation conflicted but no winner is visible", nil)
		}
		return winner, false, nil
	}

	templates, err := s.activeTemplates(ctx, tx, g)
	if err != nil {
		return nil, false, err
	}

	tasks := make([]*TaskInstance, 0, len(templates))
	for _, tmpl := range templates {
		tasks = append(tasks, &TaskInstance{
			ID:                s.node.Generate().String(),
			TrackerInstanceID: inst.ID,
			TemplateID:        tmpl.ID,
			Status:            StatusTodo,
			Snapshot:          tmpl.Snapshot(),
		})
		g.touched[tmpl.ID] = struct{}{}
	}
	if err := s.tasks.WithTrx(tx).BatchCreate(ctx, tasks); err != nil {
		return nil, false, err
	}

	inst.Tasks = make([]TaskInstance, 0, len(tasks))
	for _, t := range tasks {
		inst.Tasks = append(inst.Tasks, *t)
	}
	instancesCreated.Inc()
	return inst, true, nil
}

// finish recomputes goals whose templates gained occurrences in this generation.
func (s *Service) finish(ctx context.Context, tx *gorm.DB, g *generation) error {
	if s.goals == nil || len(g.touched) == 0 {
		return nil
	}
	ids := make([]string, 0, len(g.touched))
	for id := range g.touched {
		ids = append(ids, id)
	}
	after, err := s.goals.RecomputeForTemplatesTx(ctx, tx, ids)
	if err != nil {
		return err
	}
	g.after = append(g.after, after)
	return nil
}

// GetOrCreateInstance returns the instance of the period containing ref,
// materializing it on first access. Concurrent callers for the same tracker
// and date observe the same row; the shared call outlives a canceled caller.
func (s *Service) GetOrCreateInstance(ctx context.Context, trackerID string, ref time.Time) (*InstanceView, error) {
	ctx, span := tracer.Start(ctx, "tracker.GetOrCreateInstance")
	defer span.End()

	key := trackerID + "|" + period.Normalize(ref).Format(time.DateOnly)
	v, err, _ := s.group.Do(key, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		var (
			view *InstanceView
			gen  *generation
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			g, err := s.begin(ctx, tx, trackerID)
			if err != nil {
				return err
			}
			p, err := period.ResolveUnit(g.unit, ref, g.tracker.WeekStart())
			if err != nil {
				return err
			}
			inst, created, err := s.materialize(ctx, tx, g, p)
			if err != nil {
				return err
			}
			view = &InstanceView{Instance: inst, Created: created, Warnings: g.warnings(ref, inst)}
			gen = g
			return s.finish(ctx, tx, g)
		})
		if err != nil {
			return nil, err
		}
		runAfterCommit(ctx, gen.after)
		return view, nil
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to get or create instance",
			zap.String("tracker_id", trackerID), zap.Time("reference_date", ref), zap.Error(err))
		return nil, err
	}

	view := *v.(*InstanceView)
	return &view, nil
}

// CreateMultiPeriodSet materializes periodCount consecutive periods starting
// with the one containing start, all in one transaction. A non-empty goalTitle
// also creates a goal targeting one completion per period.
func (s *Service) CreateMultiPeriodSet(ctx context.Context, trackerID string, start time.Time, periodCount int, goalTitle string) (*ChallengeResult, error) {
	ctx, span := tracer.Start(ctx, "tracker.CreateMultiPeriodSet")
	defer span.End()

	out := &ChallengeResult{}
	var gen *generation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := s.begin(ctx, tx, trackerID)
		if err != nil {
			return err
		}
		gen = g
		periods, err := period.ResolveCustom(start, periodCount, g.unit, g.tracker.WeekStart())
		if err != nil {
			return err
		}

		for _, p := range periods {
			inst, created, err := s.materialize(ctx, tx, g, p)
			if err != nil {
				return err
			}
			out.Instances = append(out.Instances, &InstanceView{
				Instance: inst, Created: created, Warnings: g.warnings(p.Start, inst),
			})
		}

		if goalTitle != "" {
			if s.goals == nil {
				return errutil.Internal("goal linking is not configured", nil)
			}
			templates, err := s.activeTemplates(ctx, tx, g)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(templates))
			for _, t := range templates {
				if t.IncludeInGoal {
					ids = append(ids, t.ID)
				}
			}
			var after AfterCommit
			out.GoalID, after, err = s.goals.CreateLinkedGoalTx(ctx, tx, LinkedGoal{
				OwnerID:     g.tracker.OwnerID,
				TrackerID:   g.tracker.ID,
				Title:       goalTitle,
				Target:      int64(periodCount),
				Unit:        g.unit.Plural(),
				StartDate:   periods[0].Start,
				TargetDate:  periods[len(periods)-1].End,
				TemplateIDs: ids,
			})
			if err != nil {
				return err
			}
			g.after = append(g.after, after)
		}

		return s.finish(ctx, tx, g)
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to create multi-period set",
			zap.String("tracker_id", trackerID), zap.Int("period_count", periodCount), zap.Error(err))
		return nil, err
	}
	runAfterCommit(ctx, gen.after)
	return out, nil
}

// FillGaps materializes every period in [start, end] that has no instance yet
// and returns only those. With markMissed, occurrences of created periods that
// ended before today are set to MISSED.
func (s *Service) FillGaps(ctx context.Context, trackerID string, start, end time.Time, markMissed bool) ([]*InstanceView, error) {
	ctx, span := tracer.Start(ctx, "tracker.FillGaps")
	defer span.End()

	var (
		out []*InstanceView
		gen *generation
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := s.begin(ctx, tx, trackerID)
		if err != nil {
			return err
		}
		gen = g
		periods, err := period.Range(start, end, g.unit, g.tracker.WeekStart())
		if err != nil {
			return err
		}

		var missedInstances []string
		for _, p := range periods {
			inst, created, err := s.materialize(ctx, tx, g, p)
			if err != nil {
				return err
			}
			if !created {
				continue
			}
			if markMissed && p.End.Before(g.today) {
				missedInstances = append(missedInstances, inst.ID)
				for i := range inst.Tasks {
					inst.Tasks[i].Status = StatusMissed
				}
			}
			out = append(out, &InstanceView{Instance: inst, Created: true, Warnings: g.warnings(p.Start, inst)})
		}

		if len(missedInstances) > 0 {
			res := tx.Model(&TaskInstance{}).
				Where("tracker_instance_id IN ? AND status = ?", missedInstances, StatusTodo).
				Update("status", StatusMissed)
			if res.Error != nil {
				return res.Error
			}
			tasksMarkedMissed.Add(float64(res.RowsAffected))
		}

		return s.finish(ctx, tx, g)
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to fill gaps",
			zap.String("tracker_id", trackerID), zap.Time("start", start), zap.Time("end", end), zap.Error(err))
		return nil, err
	}
	runAfterCommit(ctx, gen.after)

	logger.FromContext(ctx).Info("gaps filled", zap.String("tracker_id", trackerID), zap.Int("created", len(out)))
	return out, nil
}

// ChangeRecurrenceMode switches the tracker to a new mode. Instances of periods
// that start after today become legacy; everything up to today is untouched.
func (s *Service) ChangeRecurrenceMode(ctx context.Context, trackerID string, newMode period.Mode, customUnit period.Unit) (*ModeChangeResult, error) {
	ctx, span := tracer.Start(ctx, "tracker.ChangeRecurrenceMode")
	defer span.End()

	if _, err := period.ModeUnit(newMode, customUnit); err != nil {
		return nil, err
	}
	if newMode != period.ModeCustom {
		customUnit = ""
	}

	var (
		result *ModeChangeResult
		after  AfterCommit
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.loadTracker(ctx, tx.Scopes(option.LockingUpdate), trackerID)
		if err != nil {
			return err
		}
		result = &ModeChangeResult{OldMode: t.RecurrenceMode, NewMode: newMode}
		if t.RecurrenceMode == newMode && t.CustomUnit == customUnit {
			return nil
		}

		today, err := s.today(ctx, t)
		if err != nil {
			return err
		}

		res := tx.Model(&TrackerInstance{}).
			Where("tracker_id = ? AND period_start > ? AND status = ?", trackerID, today, InstanceActive).
			Update("status", InstanceLegacy)
		if res.Error != nil {
			return res.Error
		}
		result.LegacyCount = res.RowsAffected

		if err := s.trackers.WithTrx(tx).Update(ctx, trackerID, map[string]any{
			"recurrence_mode": newMode,
			"custom_unit":     customUnit,
		}); err != nil {
			return err
		}

		if s.goals != nil && result.LegacyCount > 0 {
			var templateIDs []string
			if err := tx.Model(&TaskTemplate{}).Where("tracker_id = ?", trackerID).Pluck("id", &templateIDs).Error; err != nil {
				return err
			}
			after, err = s.goals.RecomputeForTemplatesTx(ctx, tx, templateIDs)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	runAfterCommit(ctx, []AfterCommit{after})

	logger.FromContext(ctx).Info("recurrence mode changed",
		zap.String("tracker_id", trackerID),
		zap.String("old_mode", string(result.OldMode)),
		zap.String("new_mode", string(result.NewMode)),
		zap.Int64("legacy_count", result.LegacyCount),
	)
	return result, nil
}

// ListInstances returns up to limit instances with tracking date in
// [from, to], newest first. A non-positive limit returns all of them.
func (s *Service) ListInstances(ctx context.Context, trackerID string, from, to time.Time, limit int) ([]*TrackerInstance, error) {
	if trackerID == "" {
		return nil, errutil.ValidationFailed("tracker id is required", nil)
	}
	return s.instances.Find(ctx, &TrackerInstance{TrackerID: trackerID},
		option.ApplyOperator(
			option.Condition{Field: "tracking_date", Operator: option.GTE, Value: period.Normalize(from)},
			option.Condition{Field: "tracking_date", Operator: option.LTE, Value: period.Normalize(to)},
		),
		option.WithPreload("Tasks", orderByCreated),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "tracking_date",
			OrderBy: "desc",
			Allow:   map[string]bool{"tracking_date": true},
		}),
		option.WithLimit(limit),
	)
}

func (s *Service) GetInstance(ctx context.Context, instanceID string) (*TrackerInstance, error) {
	if instanceID == "" {
		return nil, errutil.ValidationFailed("instance id is required", nil)
	}
	inst, err := s.instances.FindOne(ctx, &TrackerInstance{ID: instanceID}, option.WithPreload("Tasks", orderByCreated))
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, errutil.NotFound("instance not found", nil, errutil.WithField("instance_id", instanceID))
	}
	return inst, nil
}
