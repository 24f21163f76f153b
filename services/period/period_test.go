package period

import (
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"

	"habitcore/pkg/errutil"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveDaily(t *testing.T) {
	ref := time.Date(2024, 2, 29, 17, 45, 0, 0, time.UTC)
	p, err := Resolve(ModeDaily, ref, time.Monday)
	require.NoError(t, err)
	require.Equal(t, date(2024, 2, 29), p.Start)
	require.Equal(t, p.Start, p.End)
}

func TestResolveWeekly(t *testing.T) {
	cases := []struct {
		name      string
		ref       time.Time
		weekStart time.Weekday
		start     time.Time
	}{
		{"monday start midweek", date(2024, 1, 3), time.Monday, date(2024, 1, 1)},
		{"monday start on sunday", date(2024, 1, 7), time.Monday, date(2024, 1, 1)},
		{"sunday start on saturday", date(2024, 1, 6), time.Sunday, date(2023, 12, 31)},
		{"sunday start on sunday", date(2023, 12, 31), time.Sunday, date(2023, 12, 31)},
		{"saturday start crossing year", date(2025, 1, 2), time.Saturday, date(2024, 12, 28)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Resolve(ModeWeekly, tc.ref, tc.weekStart)
			require.NoError(t, err)
			require.Equal(t, tc.start, p.Start)
			require.Equal(t, tc.start.AddDate(0, 0, 6), p.End)
			require.True(t, p.Contains(tc.ref))
		})
	}
}

func TestResolveMonthly(t *testing.T) {
	p, err := Resolve(ModeMonthly, date(2024, 2, 10), time.Monday)
	require.NoError(t, err)
	require.Equal(t, date(2024, 2, 1), p.Start)
	require.Equal(t, date(2024, 2, 29), p.End)

	p, err = Resolve(ModeMonthly, date(2023, 2, 28), time.Monday)
	require.NoError(t, err)
	require.Equal(t, date(2023, 2, 28), p.End)

	p, err = Resolve(ModeMonthly, date(2023, 12, 31), time.Monday)
	require.NoError(t, err)
	require.Equal(t, date(2023, 12, 1), p.Start)
	require.Equal(t, date(2023, 12, 31), p.End)
}

func TestResolveRejectsCustomAndUnknown(t *testing.T) {
	_, err := Resolve(ModeCustom, date(2024, 1, 1), time.Monday)
	require.True(t, errutil.IsValidation(err))

	_, err = Resolve(Mode("hourly"), date(2024, 1, 1), time.Monday)
	require.True(t, errutil.IsValidation(err))

	_, err = ResolveUnit(UnitDay, date(2024, 1, 1), time.Weekday(7))
	require.True(t, errutil.IsValidation(err))
}

func TestResolveCustom(t *testing.T) {
	days, err := ResolveCustom(date(2024, 2, 27), 5, UnitDay, time.Monday)
	require.NoError(t, err)
	require.Len(t, days, 5)
	require.Equal(t, date(2024, 2, 29), days[2].Start)
	require.Equal(t, date(2024, 3, 2), days[4].Start)

	weeks, err := ResolveCustom(date(2024, 1, 3), 3, UnitWeek, time.Monday)
	require.NoError(t, err)
	require.Equal(t, date(2024, 1, 1), weeks[0].Start)
	require.Equal(t, date(2024, 1, 15), weeks[2].Start)
	require.Equal(t, date(2024, 1, 21), weeks[2].End)

	months, err := ResolveCustom(date(2024, 1, 31), 3, UnitMonth, time.Monday)
	require.NoError(t, err)
	require.Equal(t, date(2024, 2, 1), months[1].Start)
	require.Equal(t, date(2024, 2, 29), months[1].End)
	require.Equal(t, date(2024, 3, 31), months[2].End)

	years, err := ResolveCustom(date(2024, 6, 1), 2, UnitYear, time.Monday)
	require.NoError(t, err)
	require.Equal(t, date(2025, 1, 1), years[1].Start)
	require.Equal(t, date(2025, 12, 31), years[1].End)
}

func TestResolveCustomValidation(t *testing.T) {
	_, err := ResolveCustom(date(2024, 1, 1), 0, UnitDay, time.Monday)
	require.True(t, errutil.IsValidation(err))

	_, err = ResolveCustom(date(2024, 1, 1), 3, Unit("fortnight"), time.Monday)
	require.True(t, errutil.IsValidation(err))
}

func TestRange(t *testing.T) {
	ps, err := Range(date(2024, 1, 3), date(2024, 1, 15), UnitWeek, time.Monday)
	require.NoError(t, err)
	require.Len(t, ps, 3)
	require.Equal(t, date(2024, 1, 15), ps[2].Start)

	_, err = Range(date(2024, 1, 3), date(2024, 1, 1), UnitDay, time.Monday)
	require.True(t, errutil.IsValidation(err))
}

func TestUnitsBetween(t *testing.T) {
	require.Equal(t, 1, UnitsBetween(date(2023, 12, 31), date(2024, 1, 1), UnitDay))
	require.Equal(t, 2, UnitsBetween(date(2024, 2, 28), date(2024, 3, 1), UnitDay))
	require.Equal(t, 1, UnitsBetween(date(2024, 1, 1), date(2024, 1, 8), UnitWeek))
	require.Equal(t, 1, UnitsBetween(date(2023, 12, 1), date(2024, 1, 1), UnitMonth))
	require.Equal(t, 1, UnitsBetween(date(2023, 1, 1), date(2024, 1, 1), UnitYear))
}

func TestModeUnit(t *testing.T) {
	u, err := ModeUnit(ModeCustom, UnitMonth)
	require.NoError(t, err)
	require.Equal(t, UnitMonth, u)
	require.Equal(t, "months", u.Plural())

	_, err = ModeUnit(ModeCustom, "")
	require.True(t, errutil.IsValidation(err))
}

func TestTodayUsesLocation(t *testing.T) {
	c := clock.NewMock()
	c.Add(time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC).Sub(c.Now()))

	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	require.Equal(t, date(2024, 1, 1), Today(c, time.UTC))
	require.Equal(t, date(2024, 1, 2), Today(c, jakarta))
}
