package tracker

import (
	"context"
	"errors"
	"time"

	"habitcore/pkg/errutil"
	"habitcore/pkg/logger"
	"habitcore/pkg/repository"
	"habitcore/services/period"
	"habitcore/services/preference"

	"github.com/bwmarrin/snowflake"
	"github.com/facebookgo/clock"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("habitcore/services/tracker")

// LinkedGoal describes the goal created alongside a multi-period challenge.
type LinkedGoal struct {
	OwnerID     string
	TrackerID   string
	Title       string
	Target      int64
	Unit        string
	StartDate   time.Time
	TargetDate  time.Time
	TemplateIDs []string
}

// AfterCommit runs once the surrounding transaction has committed.
type AfterCommit func(ctx context.Context)

// Goals is the slice of goal behaviour tracker mutations depend on. Every
// method runs inside the caller's transaction; a non-nil AfterCommit is run
// by the caller after commit.
type Goals interface {
	CreateLinkedGoalTx(ctx context.Context, tx *gorm.DB, g LinkedGoal) (string, AfterCommit, error)
	RecomputeForTemplatesTx(ctx context.Context, tx *gorm.DB, templateIDs []string) (AfterCommit, error)
}

func runAfterCommit(ctx context.Context, hooks []AfterCommit) {
	for _, fn := range hooks {
		if fn != nil {
			fn(ctx)
		}
	}
}

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock
	prefs preference.Provider
	goals Goals

	group singleflight.Group

	trackers  repository.Repository[TrackerDefinition]
	templates repository.Repository[TaskTemplate]
	instances repository.Repository[TrackerInstance]
	tasks     repository.Repository[TaskInstance]
}

type Params struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock
	Prefs preference.Provider
	Goals Goals `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		clock: p.Clock,
		prefs: p.Prefs,
		goals: p.Goals,

		trackers:  repository.ProvideStore[TrackerDefinition](p.DB),
		templates: repository.ProvideStore[TaskTemplate](p.DB),
		instances: repository.ProvideStore[TrackerInstance](p.DB),
		tasks:     repository.ProvideStore[TaskInstance](p.DB),
	}
}

type CreateTrackerParams struct {
	OwnerID        string
	Name           string
	RecurrenceMode period.Mode
	CustomUnit     period.Unit
	// WeekStartDay defaults to the owner's preference.
	WeekStartDay *int
}

func (s *Service) CreateTracker(ctx context.Context, p CreateTrackerParams) (*TrackerDefinition, error) {
	ctx, span := tracer.Start(ctx, "tracker.CreateTracker")
	defer span.End()

	if p.OwnerID == "" || p.Name == "" {
		return nil, errutil.ValidationFailed("owner and name are required", nil)
	}
	if _, err := period.ModeUnit(p.RecurrenceMode, p.CustomUnit); err != nil {
		return nil, err
	}

	prefs, err := s.prefs.Get(ctx, p.OwnerID)
	if err != nil {
		return nil, err
	}

	weekStart := int(prefs.WeekStartDay)
	if p.WeekStartDay != nil {
		weekStart = *p.WeekStartDay
	}
	if weekStart < 0 || weekStart > 6 {
		return nil, errutil.ValidationFailed("week start day must be within 0..6", nil)
	}

	customUnit := p.CustomUnit
	if p.RecurrenceMode != period.ModeCustom {
		customUnit = ""
	}

	t := &TrackerDefinition{
		ID:             s.node.Generate().String(),
		OwnerID:        p.OwnerID,
		Name:           p.Name,
		Slug:           slug.Make(p.Name),
		RecurrenceMode: p.RecurrenceMode,
		CustomUnit:     customUnit,
		WeekStartDay:   weekStart,
		Status:         TrackerActive,
	}
	if err := s.trackers.Create(ctx, t); err != nil {
		logger.FromContext(ctx).Error("failed to create tracker", zap.String("owner_id", p.OwnerID), zap.Error(err))
		return nil, err
	}
	return t, nil
}

func (s *Service) GetTracker(ctx context.Context, trackerID string) (*TrackerDefinition, error) {
	return s.loadTracker(ctx, s.db, trackerID)
}

func (s *Service) loadTracker(ctx context.Context, tx *gorm.DB, trackerID string) (*TrackerDefinition, error) {
	if trackerID == "" {
		return nil, errutil.NotFound("tracker not found", nil)
	}
	t, err := s.trackers.WithTrx(tx).FindOne(ctx, &TrackerDefinition{ID: trackerID})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errutil.NotFound("tracker not found", nil, errutil.WithField("tracker_id", trackerID))
	}
	return t, nil
}

// ArchiveTracker stops generation of new periods; history stays readable.
func (s *Service) ArchiveTracker(ctx context.Context, trackerID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadTracker(ctx, tx, trackerID); err != nil {
			return err
		}
		return s.trackers.WithTrx(tx).Update(ctx, trackerID, map[string]any{"status": TrackerArchived})
	})
}

type TemplateParams struct {
	Description   string
	Points        int
	Weight        int
	IncludeInGoal bool
	IsRecurring   bool
}

func validateTemplate(description string, points, weight int) error {
	if description == "" {
		return errutil.ValidationFailed("template description is required", nil)
	}
	if points < 0 {
		return errutil.ValidationFailed("points must not be negative", nil, errutil.WithField("points", "negative"))
	}
	if weight < 0 {
		return errutil.ValidationFailed("weight must not be negative", nil, errutil.WithField("weight", "negative"))
	}
	return nil
}

// AddTemplate registers a task on the tracker. Existing instances are not
// back-filled; the template appears from the next materialized period.
func (s *Service) AddTemplate(ctx context.Context, trackerID string, p TemplateParams) (*TaskTemplate, error) {
	if err := validateTemplate(p.Description, p.Points, p.Weight); err != nil {
		return nil, err
	}
	if _, err := s.loadTracker(ctx, s.db, trackerID); err != nil {
		return nil, err
	}

	tmpl := &TaskTemplate{
		ID:            s.node.Generate().String(),
		TrackerID:     trackerID,
		Description:   p.Description,
		Points:        p.Points,
		Weight:        p.Weight,
		IncludeInGoal: p.IncludeInGoal,
		IsRecurring:   p.IsRecurring,
	}
	if err := s.templates.Create(ctx, tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

type TemplateUpdate struct {
	Description   *string
	Points        *int
	Weight        *int
	IncludeInGoal *bool
	IsRecurring   *bool
}

// UpdateTemplate edits the live template. Task occurrences keep their snapshot.
func (s *Service) UpdateTemplate(ctx context.Context, templateID string, u TemplateUpdate) (*TaskTemplate, error) {
	tmpl, err := s.loadTemplate(ctx, s.db, templateID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if u.Description != nil {
		tmpl.Description = *u.Description
		updates["description"] = *u.Description
	}
	if u.Points != nil {
		tmpl.Points = *u.Points
		updates["points"] = *u.Points
	}
	if u.Weight != nil {
		tmpl.Weight = *u.Weight
		updates["weight"] = *u.Weight
	}
	if u.IncludeInGoal != nil {
		tmpl.IncludeInGoal = *u.IncludeInGoal
		updates["include_in_goal"] = *u.IncludeInGoal
	}
	if u.IsRecurring != nil {
		tmpl.IsRecurring = *u.IsRecurring
		updates["is_recurring"] = *u.IsRecurring
	}
	if len(updates) == 0 {
		return tmpl, nil
	}
	if err := validateTemplate(tmpl.Description, tmpl.Points, tmpl.Weight); err != nil {
		return nil, err
	}

	if err := s.templates.Update(ctx, templateID, updates); err != nil {
		return nil, err
	}
	return tmpl, nil
}

func (s *Service) loadTemplate(ctx context.Context, tx *gorm.DB, templateID string) (*TaskTemplate, error) {
	if templateID == "" {
		return nil, errutil.NotFound("template not found", nil)
	}
	tmpl, err := s.templates.WithTrx(tx).FindOne(ctx, &TaskTemplate{ID: templateID})
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, errutil.NotFound("template not found", nil, errutil.WithField("template_id", templateID))
	}
	return tmpl, nil
}

func (s *Service) GetTemplate(ctx context.Context, templateID string) (*TaskTemplate, error) {
	return s.loadTemplate(ctx, s.db, templateID)
}

func (s *Service) ListTemplates(ctx context.Context, trackerID string) ([]*TaskTemplate, error) {
	return s.templates.Find(ctx, &TaskTemplate{TrackerID: trackerID}, orderByCreated)
}

func orderByCreated(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC").Order("id ASC")
}

// DeleteTemplate soft-deletes a template along with its occurrences in periods
// that have not started yet. Past occurrences stay as history; goals mapped to
// the template are recomputed without it.
func (s *Service) DeleteTemplate(ctx context.Context, templateID string) error {
	ctx, span := tracer.Start(ctx, "tracker.DeleteTemplate")
	defer span.End()

	var after AfterCommit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tmpl, err := s.loadTemplate(ctx, tx, templateID)
		if err != nil {
			return err
		}
		t, err := s.loadTracker(ctx, tx, tmpl.TrackerID)
		if err != nil {
			return err
		}
		today, err := s.today(ctx, t)
		if err != nil {
			return err
		}

		if err := tx.Delete(&TaskTemplate{}, "id = ?", templateID).Error; err != nil {
			return err
		}

		upcoming := tx.Model(&TrackerInstance{}).Select("id").
			Where("tracker_id = ? AND period_start > ?", t.ID, today)
		res := tx.Where("template_id = ? AND tracker_instance_id IN (?)", templateID, upcoming).
			Delete(&TaskInstance{})
		if res.Error != nil {
			return res.Error
		}

		logger.FromContext(ctx).Info("template deleted",
			zap.String("template_id", templateID),
			zap.Int64("upcoming_tasks_deleted", res.RowsAffected),
		)

		if s.goals != nil {
			after, err = s.goals.RecomputeForTemplatesTx(ctx, tx, []string{templateID})
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	runAfterCommit(ctx, []AfterCommit{after})
	return nil
}

// DeleteTracker soft-deletes the tracker and everything it owns in one
// transaction.
func (s *Service) DeleteTracker(ctx context.Context, trackerID string) error {
	ctx, span := tracer.Start(ctx, "tracker.DeleteTracker")
	defer span.End()

	var after AfterCommit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadTracker(ctx, tx, trackerID); err != nil {
			return err
		}

		var templateIDs []string
		if err := tx.Model(&TaskTemplate{}).Where("tracker_id = ?", trackerID).Pluck("id", &templateIDs).Error; err != nil {
			return err
		}

		instanceIDs := tx.Model(&TrackerInstance{}).Select("id").Where("tracker_id = ?", trackerID)
		if err := tx.Where("tracker_instance_id IN (?)", instanceIDs).Delete(&TaskInstance{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tracker_id = ?", trackerID).Delete(&TrackerInstance{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tracker_id = ?", trackerID).Delete(&TaskTemplate{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&TrackerDefinition{}, "id = ?", trackerID).Error; err != nil {
			return err
		}

		if s.goals != nil && len(templateIDs) > 0 {
			var err error
			after, err = s.goals.RecomputeForTemplatesTx(ctx, tx, templateIDs)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	runAfterCommit(ctx, []AfterCommit{after})
	return nil
}

// today is the current date in the tracker owner's time zone.
func (s *Service) today(ctx context.Context, t *TrackerDefinition) (time.Time, error) {
	prefs, err := s.prefs.Get(ctx, t.OwnerID)
	if err != nil {
		return time.Time{}, err
	}
	return period.Today(s.clock, prefs.Location), nil
}

// Today exposes the owner-local current date of a tracker.
func (s *Service) Today(ctx context.Context, trackerID string) (time.Time, error) {
	t, err := s.loadTracker(ctx, s.db, trackerID)
	if err != nil {
		return time.Time{}, err
	}
	return s.today(ctx, t)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errutil.IsNotFound(err)
}
