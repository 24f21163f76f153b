package period

import (
	"fmt"
	"time"

	"habitcore/pkg/errutil"

	"github.com/facebookgo/clock"
	"github.com/jinzhu/now"
)

type Mode string

const (
	ModeDaily   Mode = "daily"
	ModeWeekly  Mode = "weekly"
	ModeMonthly Mode = "monthly"
	ModeCustom  Mode = "custom"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeDaily, ModeWeekly, ModeMonthly, ModeCustom:
		return true
	}
	return false
}

// Unit is the granularity of one atomic period.
type Unit string

const (
	UnitDay   Unit = "day"
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
	UnitYear  Unit = "year"
)

func (u Unit) Valid() bool {
	switch u {
	case UnitDay, UnitWeek, UnitMonth, UnitYear:
		return true
	}
	return false
}

// Plural is the goal unit label for a count of these periods.
func (u Unit) Plural() string {
	return string(u) + "s"
}

// Period is an inclusive range of calendar dates, both at UTC midnight.
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Contains(d time.Time) bool {
	d = Normalize(d)
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p Period) String() string {
	return fmt.Sprintf("%s..%s", p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly))
}

func invalid(msg string, opts ...errutil.Option) error {
	return errutil.ValidationFailed(msg, nil, opts...)
}

// Normalize drops the clock part, keeping the calendar date as seen in t's location.
func Normalize(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today is the current calendar date in loc.
func Today(c clock.Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Normalize(c.Now().In(loc))
}

// ModeUnit maps a recurrence mode to its atomic unit. Custom trackers carry
// their own unit.
func ModeUnit(mode Mode, custom Unit) (Unit, error) {
	switch mode {
	case ModeDaily:
		return UnitDay, nil
	case ModeWeekly:
		return UnitWeek, nil
	case ModeMonthly:
		return UnitMonth, nil
	case ModeCustom:
		if !custom.Valid() {
			return "", invalid("custom recurrence requires a unit", errutil.WithField("custom_unit", string(custom)))
		}
		return custom, nil
	default:
		return "", invalid("unsupported recurrence mode", errutil.WithField("recurrence_mode", string(mode)))
	}
}

func calendar(ref time.Time, weekStart time.Weekday) *now.Now {
	cfg := &now.Config{WeekStartDay: weekStart, TimeLocation: time.UTC}
	return cfg.With(Normalize(ref))
}

// ResolveUnit returns the period of the given unit containing ref.
func ResolveUnit(unit Unit, ref time.Time, weekStart time.Weekday) (Period, error) {
	if weekStart < time.Sunday || weekStart > time.Saturday {
		return Period{}, invalid("week start day must be within 0..6")
	}

	c := calendar(ref, weekStart)
	switch unit {
	case UnitDay:
		d := Normalize(ref)
		return Period{Start: d, End: d}, nil
	case UnitWeek:
		start := Normalize(c.BeginningOfWeek())
		return Period{Start: start, End: start.AddDate(0, 0, 6)}, nil
	case UnitMonth:
		return Period{Start: Normalize(c.BeginningOfMonth()), End: Normalize(c.EndOfMonth())}, nil
	case UnitYear:
		return Period{Start: Normalize(c.BeginningOfYear()), End: Normalize(c.EndOfYear())}, nil
	default:
		return Period{}, invalid("unsupported period unit", errutil.WithField("unit", string(unit)))
	}
}

// Resolve maps a reference date to its period under a fixed recurrence mode.
// Custom mode has no single period and must go through ResolveCustom.
func Resolve(mode Mode, ref time.Time, weekStart time.Weekday) (Period, error) {
	if mode == ModeCustom {
		return Period{}, invalid("custom recurrence resolves through an explicit start and duration")
	}
	unit, err := ModeUnit(mode, "")
	if err != nil {
		return Period{}, err
	}
	return ResolveUnit(unit, ref, weekStart)
}

// ResolveCustom returns duration consecutive periods of unit, the first being
// the one containing start.
func ResolveCustom(start time.Time, duration int, unit Unit, weekStart time.Weekday) ([]Period, error) {
	if duration < 1 {
		return nil, invalid("duration must be at least 1", errutil.WithField("duration", fmt.Sprint(duration)))
	}

	first, err := ResolveUnit(unit, start, weekStart)
	if err != nil {
		return nil, err
	}

	out := make([]Period, 0, duration)
	p := first
	for i := 0; i < duration; i++ {
		out = append(out, p)
		if p, err = Next(p, unit, weekStart); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Next is the period of the same unit immediately after p.
func Next(p Period, unit Unit, weekStart time.Weekday) (Period, error) {
	return ResolveUnit(unit, p.End.AddDate(0, 0, 1), weekStart)
}

// Range lists the periods of unit touching [from, to].
func Range(from, to time.Time, unit Unit, weekStart time.Weekday) ([]Period, error) {
	from, to = Normalize(from), Normalize(to)
	if to.Before(from) {
		return nil, invalid("end date precedes start date")
	}

	p, err := ResolveUnit(unit, from, weekStart)
	if err != nil {
		return nil, err
	}

	var out []Period
	for !p.Start.After(to) {
		out = append(out, p)
		if p, err = Next(p, unit, weekStart); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UnitsBetween counts whole units from period start a to period start b.
// Both should be period starts of the same unit.
func UnitsBetween(a, b time.Time, unit Unit) int {
	a, b = Normalize(a), Normalize(b)
	switch unit {
	case UnitWeek:
		return daysBetween(a, b) / 7
	case UnitMonth:
		return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	case UnitYear:
		return b.Year() - a.Year()
	default:
		return daysBetween(a, b)
	}
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
