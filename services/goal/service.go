package goal

import (
	"context"
	"errors"
	"sort"
	"time"

	"habitcore/pkg/db/option"
	"habitcore/pkg/errutil"
	"habitcore/pkg/logger"
	"habitcore/pkg/repository"
	"habitcore/services/period"
	"habitcore/services/preference"
	"habitcore/services/tracker"

	"github.com/bwmarrin/snowflake"
	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	tracer = otel.Tracer("habitcore/services/goal")

	recomputations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "habitcore_goal_recomputations_total",
		Help: "Goal progress recomputations.",
	})
	achievements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "habitcore_goal_achievements_total",
		Help: "Goals that transitioned into achieved.",
	})
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock
	prefs preference.Provider

	goals    repository.Repository[Goal]
	mappings repository.Repository[GoalTaskMapping]
}

type Params struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock
	Prefs preference.Provider
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		clock: p.Clock,
		prefs: p.Prefs,

		goals:    repository.ProvideStore[Goal](p.DB),
		mappings: repository.ProvideStore[GoalTaskMapping](p.DB),
	}
}

type CreateGoalParams struct {
	OwnerID     string
	TrackerID   string
	Title       string
	TargetValue *int64
	Unit        string
	// StartDate defaults to the owner's today.
	StartDate  *time.Time
	TargetDate *time.Time
}

func (s *Service) CreateGoal(ctx context.Context, p CreateGoalParams) (*Goal, error) {
	var g *Goal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		g, err = s.createTx(ctx, tx, p)
		return err
	})
	return g, err
}

func (s *Service) createTx(ctx context.Context, tx *gorm.DB, p CreateGoalParams) (*Goal, error) {
	if p.OwnerID == "" || p.Title == "" {
		return nil, errutil.ValidationFailed("owner and title are required", nil)
	}
	if p.TargetValue != nil && *p.TargetValue < 0 {
		return nil, errutil.ValidationFailed("target value must not be negative", nil)
	}

	start := time.Time{}
	if p.StartDate != nil {
		start = period.Normalize(*p.StartDate)
	} else {
		today, err := s.today(ctx, p.OwnerID)
		if err != nil {
			return nil, err
		}
		start = today
	}

	var targetDate *time.Time
	if p.TargetDate != nil {
		d := period.Normalize(*p.TargetDate)
		if d.Before(start) {
			return nil, errutil.ValidationFailed("target date precedes start date", nil)
		}
		targetDate = &d
	}

	g := &Goal{
		ID:          s.node.Generate().String(),
		OwnerID:     p.OwnerID,
		TrackerID:   p.TrackerID,
		Title:       p.Title,
		TargetValue: p.TargetValue,
		Unit:        p.Unit,
		Status:      StatusActive,
		StartDate:   start,
		TargetDate:  targetDate,
	}
	if err := s.goals.WithTrx(tx).Create(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// CreateLinkedGoalTx creates a goal mapped to every given template at weight 1
// and returns its first computed progress.
func (s *Service) CreateLinkedGoalTx(ctx context.Context, tx *gorm.DB, lg tracker.LinkedGoal) (*Progress, error) {
	target := lg.Target
	g, err := s.createTx(ctx, tx, CreateGoalParams{
		OwnerID:     lg.OwnerID,
		TrackerID:   lg.TrackerID,
		Title:       lg.Title,
		TargetValue: &target,
		Unit:        lg.Unit,
		StartDate:   &lg.StartDate,
		TargetDate:  &lg.TargetDate,
	})
	if err != nil {
		return nil, err
	}

	mappings := make([]*GoalTaskMapping, 0, len(lg.TemplateIDs))
	for _, id := range lg.TemplateIDs {
		mappings = append(mappings, &GoalTaskMapping{
			ID:                 s.node.Generate().String(),
			GoalID:             g.ID,
			TemplateID:         id,
			ContributionWeight: 1.0,
		})
	}
	if err := s.mappings.WithTrx(tx).BatchCreate(ctx, mappings); err != nil {
		return nil, err
	}
	return s.UpdateTx(ctx, tx, g.ID)
}

// MapTemplate links a template to a goal, or reweights an existing link, and
// recomputes the goal.
func (s *Service) MapTemplate(ctx context.Context, goalID, templateID string, weight float64) (*Progress, error) {
	if weight < 0 {
		return nil, errutil.ValidationFailed("contribution weight must not be negative", nil)
	}

	var out *Progress
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.load(ctx, tx, goalID); err != nil {
			return err
		}

		var tmpl tracker.TaskTemplate
		if err := tx.Where("id = ?", templateID).Take(&tmpl).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.NotFound("template not found", err, errutil.WithField("template_id", templateID))
			}
			return err
		}

		existing, err := s.mappings.WithTrx(tx).FindOne(ctx, &GoalTaskMapping{GoalID: goalID, TemplateID: templateID})
		if err != nil {
			return err
		}
		if existing != nil {
			if err := s.mappings.WithTrx(tx).Update(ctx, existing.ID, map[string]any{"contribution_weight": weight}); err != nil {
				return err
			}
		} else if err := s.mappings.WithTrx(tx).Create(ctx, &GoalTaskMapping{
			ID:                 s.node.Generate().String(),
			GoalID:             goalID,
			TemplateID:         templateID,
			ContributionWeight: weight,
		}); err != nil {
			return err
		}

		out, err = s.UpdateTx(ctx, tx, goalID)
		return err
	})
	return out, err
}

// UnmapTemplate soft-deletes the link and recomputes the goal.
func (s *Service) UnmapTemplate(ctx context.Context, goalID, templateID string) (*Progress, error) {
	var out *Progress
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("goal_id = ? AND template_id = ?", goalID, templateID).Delete(&GoalTaskMapping{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.NotFound("mapping not found", nil)
		}
		var err error
		out, err = s.UpdateTx(ctx, tx, goalID)
		return err
	})
	return out, err
}

// SetTarget changes the target and recomputes status immediately; raising the
// target above the current value un-achieves the goal. A nil target clears it.
func (s *Service) SetTarget(ctx context.Context, goalID string, target *int64) (*Progress, error) {
	if target != nil && *target < 0 {
		return nil, errutil.ValidationFailed("target value must not be negative", nil)
	}

	var out *Progress
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.load(ctx, tx, goalID); err != nil {
			return err
		}
		if err := tx.Model(&Goal{}).Where("id = ?", goalID).Update("target_value", target).Error; err != nil {
			return err
		}
		var err error
		out, err = s.UpdateTx(ctx, tx, goalID)
		return err
	})
	return out, err
}

func (s *Service) Abandon(ctx context.Context, goalID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.load(ctx, tx, goalID); err != nil {
			return err
		}
		return s.goals.WithTrx(tx).Update(ctx, goalID, map[string]any{"status": StatusAbandoned, "on_track": false})
	})
}

func (s *Service) Get(ctx context.Context, goalID string) (*Goal, error) {
	return s.load(ctx, s.db, goalID)
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, goalID string) (*Goal, error) {
	if goalID == "" {
		return nil, errutil.ValidationFailed("goal id is required", nil)
	}
	g, err := s.goals.WithTrx(tx).FindOne(ctx, &Goal{ID: goalID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, errutil.NotFound("goal not found", nil, errutil.WithField("goal_id", goalID))
	}
	return g, nil
}

// ListActiveIDs pages through goals that are not abandoned.
func (s *Service) ListActiveIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Goal{}).
		Where("status <> ? AND id > ?", StatusAbandoned, afterID).
		Order("id ASC").Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// Update recomputes a goal in its own transaction.
func (s *Service) Update(ctx context.Context, goalID string) (*Progress, error) {
	ctx, span := tracer.Start(ctx, "goal.Update")
	defer span.End()

	var out *Progress
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.UpdateTx(ctx, tx, goalID)
		return err
	})
	return out, err
}

// UpdateTx recomputes progress, current value, status and projection of a goal
// from live mappings and persists them inside tx.
func (s *Service) UpdateTx(ctx context.Context, tx *gorm.DB, goalID string) (*Progress, error) {
	g, err := s.load(ctx, tx, goalID)
	if err != nil {
		return nil, err
	}

	rows, err := contributions(ctx, tx, goalID)
	if err != nil {
		return nil, err
	}

	progress, current := aggregate(rows)
	status := nextStatus(g.Status, g.TargetValue, current)

	today, err := s.today(ctx, g.OwnerID)
	if err != nil {
		return nil, err
	}

	out := &Progress{
		GoalID:         g.ID,
		Progress:       progress,
		CurrentValue:   current,
		TargetValue:    g.TargetValue,
		Status:         status,
		PreviousStatus: g.Status,
		AchievedNow:    status == StatusAchieved && g.Status != StatusAchieved,
	}
	if status != StatusAbandoned {
		out.OnTrack = onTrack(status, current, g.TargetValue, g.StartDate, g.TargetDate, today)
	}

	updates := map[string]any{
		"progress":      out.Progress,
		"current_value": out.CurrentValue,
		"status":        out.Status,
		"on_track":      out.OnTrack,
	}
	switch {
	case out.AchievedNow:
		updates["achieved_at"] = s.clock.Now().UTC()
	case status != StatusAchieved && g.AchievedAt != nil:
		updates["achieved_at"] = nil
	}
	if err := tx.WithContext(ctx).Model(&Goal{}).Where("id = ?", g.ID).Updates(updates).Error; err != nil {
		return nil, err
	}

	recomputations.Inc()
	if out.AchievedNow {
		achievements.Inc()
		logger.FromContext(ctx).Info("goal achieved",
			zap.String("goal_id", g.ID),
			zap.Int64("current_value", current),
		)
	}
	return out, nil
}

// RecomputeForTemplates recomputes every goal with a live mapping to any of
// the templates, in goal id order.
func (s *Service) RecomputeForTemplates(ctx context.Context, tx *gorm.DB, templateIDs []string) ([]*Progress, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}

	var goalIDs []string
	err := tx.WithContext(ctx).Model(&GoalTaskMapping{}).
		Where("template_id IN ?", templateIDs).
		Distinct().Pluck("goal_id", &goalIDs).Error
	if err != nil {
		return nil, err
	}
	sort.Strings(goalIDs)

	out := make([]*Progress, 0, len(goalIDs))
	for _, id := range goalIDs {
		p, err := s.UpdateTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) today(ctx context.Context, ownerID string) (time.Time, error) {
	prefs, err := s.prefs.Get(ctx, ownerID)
	if err != nil {
		return time.Time{}, err
	}
	return period.Today(s.clock, prefs.Location), nil
}
