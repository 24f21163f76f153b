package streak

import (
	"context"
	"errors"
	"time"

	"habitcore/pkg/errutil"
	"habitcore/services/period"
	"habitcore/services/preference"
	"habitcore/services/tracker"

	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("habitcore/services/streak")

type Result struct {
	TrackerID         string
	OwnerID           string
	AsOf              time.Time
	ThresholdPercent  float64
	CurrentStreak     int
	LongestStreak     int
	Active            bool
	LastCompletedDate *time.Time
	CurrentRunStart   *time.Time
}

// row is one live instance with its occurrence counts.
type row struct {
	ID           string    `gorm:"column:id"`
	TrackingDate time.Time `gorm:"column:tracking_date"`
	PeriodStart  time.Time `gorm:"column:period_start"`
	PeriodEnd    time.Time `gorm:"column:period_end"`
	Total        int64     `gorm:"column:total"`
	Done         int64     `gorm:"column:done"`
}

func (r row) qualifies(threshold float64) bool {
	return float64(r.Done)*100 >= threshold*float64(r.Total)
}

type Service struct {
	db    *gorm.DB
	clock clock.Clock
	prefs preference.Provider
}

type Params struct {
	fx.In
	DB    *gorm.DB
	Clock clock.Clock
	Prefs preference.Provider
}

func NewService(p Params) *Service {
	return &Service{db: p.DB, clock: p.Clock, prefs: p.Prefs}
}

// Options tune a calculation. Nil fields fall back to the owner's today and
// threshold preference.
type Options struct {
	AsOf      *time.Time
	Threshold *float64
	// DoneDelta adjusts the DONE count of individual instances, so callers can
	// evaluate the state on either side of a pending write.
	DoneDelta map[string]int64
}

// Calculate derives streaks of a tracker as of asOf. A nil asOf means today in
// the owner's time zone; a nil threshold means the owner's preference.
func (s *Service) Calculate(ctx context.Context, trackerID string, asOf *time.Time, threshold *float64) (*Result, error) {
	return s.CalculateTx(ctx, s.db, trackerID, Options{AsOf: asOf, Threshold: threshold})
}

// CalculateTx is Calculate reading through tx.
func (s *Service) CalculateTx(ctx context.Context, tx *gorm.DB, trackerID string, opts Options) (*Result, error) {
	ctx, span := tracer.Start(ctx, "streak.Calculate")
	defer span.End()

	var t tracker.TrackerDefinition
	if err := tx.WithContext(ctx).Where("id = ?", trackerID).Take(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("tracker not found", err, errutil.WithField("tracker_id", trackerID))
		}
		return nil, err
	}

	prefs, err := s.prefs.Get(ctx, t.OwnerID)
	if err != nil {
		return nil, err
	}

	res := &Result{TrackerID: trackerID, OwnerID: t.OwnerID, ThresholdPercent: prefs.StreakThresholdPercent}
	if opts.Threshold != nil {
		if *opts.Threshold < 0 || *opts.Threshold > 100 {
			return nil, errutil.ValidationFailed("threshold must be within 0..100", nil)
		}
		res.ThresholdPercent = *opts.Threshold
	}
	if opts.AsOf != nil {
		res.AsOf = period.Normalize(*opts.AsOf)
	} else {
		res.AsOf = period.Today(s.clock, prefs.Location)
	}

	unit, err := t.Unit()
	if err != nil {
		return nil, err
	}
	current, err := period.ResolveUnit(unit, res.AsOf, t.WeekStart())
	if err != nil {
		return nil, err
	}

	rows, err := history(ctx, tx, trackerID, res.AsOf)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Done += opts.DoneDelta[rows[i].ID]
	}

	walk(res, rows, current)
	return res, nil
}

// history lists live, non-legacy instances up to asOf, newest first.
func history(ctx context.Context, tx *gorm.DB, trackerID string, asOf time.Time) ([]row, error) {
	var rows []row
	err := tx.WithContext(ctx).
		Table("tracker_instances AS i").
		Select(`i.id, i.tracking_date, i.period_start, i.period_end,
			COUNT(ti.id) AS total,
			COALESCE(SUM(CASE WHEN ti.status = ? THEN 1 ELSE 0 END), 0) AS done`, tracker.StatusDone).
		Joins("LEFT JOIN task_instances ti ON ti.tracker_instance_id = i.id AND ti.deleted_at IS NULL").
		Where("i.tracker_id = ? AND i.deleted_at IS NULL AND i.status = ? AND i.tracking_date <= ?",
			trackerID, tracker.InstanceActive, asOf).
		Group("i.id, i.tracking_date, i.period_start, i.period_end").
		Order("i.tracking_date DESC").
		Scan(&rows).Error
	return rows, err
}

// adjoins reports whether r ends on the day before start, or overlaps it, while
// beginning earlier. Periods are compared by their own dates so instances
// created before a recurrence change keep their length.
func (r row) adjoins(start time.Time) bool {
	start = period.Normalize(start)
	return period.Normalize(r.PeriodStart).Before(start) &&
		!period.Normalize(r.PeriodEnd).AddDate(0, 0, 1).Before(start)
}

// walk scans rows newest first. Zero-task periods neither break nor extend a
// run; they only carry the chain to the next older period.
func walk(res *Result, rows []row, current period.Period) {
	var (
		run        int
		runStart   time.Time
		newest     *row
		recentDone bool
		// start of the period the next older qualifier has to adjoin
		chain time.Time
		// earliest start reachable from the current period through zero-task
		// periods newer than the latest qualifier
		reach = current.Start
	)

	closeRun := func() {
		if run == 0 {
			return
		}
		if run > res.LongestStreak {
			res.LongestStreak = run
		}
		if !recentDone {
			recentDone = true
			res.CurrentStreak = run
			start := runStart
			res.CurrentRunStart = &start
		}
		run = 0
	}

	for i := range rows {
		r := rows[i]
		if r.Total == 0 {
			if newest == nil && r.adjoins(reach) {
				reach = period.Normalize(r.PeriodStart)
			}
			if !chain.IsZero() && r.adjoins(chain) {
				chain = period.Normalize(r.PeriodStart)
			}
			continue
		}
		if !r.qualifies(res.ThresholdPercent) {
			closeRun()
			chain = time.Time{}
			continue
		}

		if newest == nil {
			newest = &rows[i]
		}
		if !chain.IsZero() && r.adjoins(chain) {
			run++
		} else {
			closeRun()
			run = 1
		}
		runStart = period.Normalize(r.TrackingDate)
		chain = period.Normalize(r.PeriodStart)
	}
	closeRun()

	if newest == nil {
		return
	}
	d := period.Normalize(newest.TrackingDate)
	res.LastCompletedDate = &d

	res.Active = !period.Normalize(newest.PeriodEnd).AddDate(0, 0, 1).Before(reach)
	if !res.Active {
		res.CurrentStreak = 0
	}
}
