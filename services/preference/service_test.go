package preference

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"habitcore/pkg/config"
	"habitcore/pkg/errutil"
	"habitcore/services/testutil"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, engine config.Engine) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &UserPreference{})
	svc, err := NewService(Params{DB: db, Config: &config.Config{Engine: engine}})
	require.NoError(t, err)
	return svc
}

func TestDefaultsFromConfig(t *testing.T) {
	p, err := DefaultsFromConfig(config.Engine{})
	require.NoError(t, err)
	require.Equal(t, "UTC", p.TimeZone)
	require.Equal(t, time.Sunday, p.WeekStartDay)
	require.Equal(t, 80.0, p.StreakThresholdPercent)

	p, err = DefaultsFromConfig(config.Engine{DefaultTimezone: "Asia/Jakarta", DefaultWeekStart: 1, StreakThreshold: 60})
	require.NoError(t, err)
	require.Equal(t, "Asia/Jakarta", p.Location.String())
	require.Equal(t, time.Monday, p.WeekStartDay)
	require.Equal(t, 60.0, p.StreakThresholdPercent)

	_, err = DefaultsFromConfig(config.Engine{DefaultTimezone: "Mars/Olympus"})
	require.True(t, errutil.IsValidation(err))

	for _, day := range []int{-1, 7, -8} {
		_, err = DefaultsFromConfig(config.Engine{DefaultWeekStart: day})
		require.True(t, errutil.IsValidation(err), day)
	}
	_, err = DefaultsFromConfig(config.Engine{StreakThreshold: 120})
	require.True(t, errutil.IsValidation(err))

	p, err = DefaultsFromConfig(config.Engine{DefaultWeekStart: 6})
	require.NoError(t, err)
	require.Equal(t, time.Saturday, p.WeekStartDay)
}

func TestGetFallsBackToDefaults(t *testing.T) {
	svc := newTestService(t, config.Engine{DefaultTimezone: "Europe/Berlin", DefaultWeekStart: 1})
	ctx := context.Background()

	p, err := svc.Get(ctx, "nobody")
	require.NoError(t, err)
	require.Equal(t, svc.Defaults(), p)

	p, err = svc.Get(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", p.TimeZone)
}

func TestSetOverridesPerField(t *testing.T) {
	svc := newTestService(t, config.Engine{DefaultWeekStart: 1})
	ctx := context.Background()

	saturday := int(time.Saturday)
	require.NoError(t, svc.Set(ctx, UserPreference{UserID: "user-1", TimeZone: "America/New_York", WeekStartDay: &saturday}))

	p, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "America/New_York", p.TimeZone)
	require.Equal(t, time.Saturday, p.WeekStartDay)
	require.Equal(t, 80.0, p.StreakThresholdPercent)

	threshold := 50.0
	require.NoError(t, svc.Set(ctx, UserPreference{UserID: "user-1", StreakThresholdPercent: &threshold}))

	p, err = svc.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "UTC", p.TimeZone)
	require.Equal(t, time.Monday, p.WeekStartDay)
	require.Equal(t, 50.0, p.StreakThresholdPercent)
}

func TestSetValidation(t *testing.T) {
	svc := newTestService(t, config.Engine{})
	ctx := context.Background()

	day, threshold := 9, 120.0
	cases := []UserPreference{
		{},
		{UserID: "user-1", TimeZone: "Nowhere/Special"},
		{UserID: "user-1", WeekStartDay: &day},
		{UserID: "user-1", StreakThresholdPercent: &threshold},
	}
	for _, c := range cases {
		require.True(t, errutil.IsValidation(svc.Set(ctx, c)))
	}
}

func TestFixedProvider(t *testing.T) {
	f := Fixed{TimeZone: "UTC", WeekStartDay: time.Wednesday}
	p, err := f.Get(context.Background(), "anyone")
	require.NoError(t, err)
	require.Equal(t, time.Wednesday, p.WeekStartDay)
}
