package preference

import (
	"context"
	"strconv"
	"time"

	"habitcore/pkg/config"
	"habitcore/pkg/errutil"
	"habitcore/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Provider resolves calendar preferences for a user.
type Provider interface {
	Get(ctx context.Context, userID string) (Preferences, error)
}

type Service struct {
	db       *gorm.DB
	store    repository.Repository[UserPreference]
	defaults Preferences
}

type Params struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewService(p Params) (*Service, error) {
	defaults, err := DefaultsFromConfig(p.Config.Engine)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:       p.DB,
		store:    repository.ProvideStore[UserPreference](p.DB),
		defaults: defaults,
	}, nil
}

func DefaultsFromConfig(e config.Engine) (Preferences, error) {
	tz := e.DefaultTimezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Preferences{}, errutil.ValidationFailed("invalid default time zone", err)
	}
	if e.DefaultWeekStart < 0 || e.DefaultWeekStart > 6 {
		return Preferences{}, errutil.ValidationFailed("default week start day must be within 0..6", nil,
			errutil.WithField("default_week_start", strconv.Itoa(e.DefaultWeekStart)))
	}
	threshold := e.StreakThreshold
	if threshold <= 0 {
		threshold = 80
	}
	if threshold > 100 {
		return Preferences{}, errutil.ValidationFailed("default streak threshold must be within 0..100", nil)
	}
	return Preferences{
		TimeZone:               tz,
		Location:               loc,
		WeekStartDay:           time.Weekday(e.DefaultWeekStart),
		StreakThresholdPercent: threshold,
	}, nil
}

func (s *Service) Defaults() Preferences {
	return s.defaults
}

func (s *Service) Get(ctx context.Context, userID string) (Preferences, error) {
	out := s.defaults
	if userID == "" {
		return out, nil
	}

	row, err := s.store.FindOne(ctx, &UserPreference{UserID: userID})
	if err != nil {
		return Preferences{}, err
	}
	if row == nil {
		return out, nil
	}

	if row.TimeZone != "" {
		loc, err := time.LoadLocation(row.TimeZone)
		if err != nil {
			zap.L().Warn("unknown stored time zone, using default",
				zap.String("user_id", userID), zap.String("time_zone", row.TimeZone))
		} else {
			out.TimeZone, out.Location = row.TimeZone, loc
		}
	}
	if row.WeekStartDay != nil {
		out.WeekStartDay = time.Weekday(*row.WeekStartDay)
	}
	if row.StreakThresholdPercent != nil {
		out.StreakThresholdPercent = *row.StreakThresholdPercent
	}
	return out, nil
}

// Set stores a user's overrides, replacing any previous row.
func (s *Service) Set(ctx context.Context, pref UserPreference) error {
	if pref.UserID == "" {
		return errutil.ValidationFailed("user id is required", nil)
	}
	if pref.TimeZone != "" {
		if _, err := time.LoadLocation(pref.TimeZone); err != nil {
			return errutil.ValidationFailed("invalid time zone", err, errutil.WithField("time_zone", pref.TimeZone))
		}
	}
	if pref.WeekStartDay != nil && (*pref.WeekStartDay < 0 || *pref.WeekStartDay > 6) {
		return errutil.ValidationFailed("week start day must be within 0..6", nil)
	}
	if pref.StreakThresholdPercent != nil && (*pref.StreakThresholdPercent < 0 || *pref.StreakThresholdPercent > 100) {
		return errutil.ValidationFailed("streak threshold must be within 0..100", nil)
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"time_zone", "week_start_day", "streak_threshold_percent", "updated_at"}),
	}).Create(&pref).Error
}
