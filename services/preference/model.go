package preference

import "time"

// UserPreference stores per-user overrides of the engine defaults. Nil
// columns fall back to config.
type UserPreference struct {
	UserID                 string    `gorm:"column:user_id;primaryKey;type:varchar(64)"`
	TimeZone               string    `gorm:"column:time_zone;type:varchar(64)"`
	WeekStartDay           *int      `gorm:"column:week_start_day"`
	StreakThresholdPercent *float64  `gorm:"column:streak_threshold_percent"`
	CreatedAt              time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (UserPreference) TableName() string {
	return "user_preferences"
}

// Preferences is the resolved calendar view of a user.
type Preferences struct {
	TimeZone               string
	Location               *time.Location
	WeekStartDay           time.Weekday
	StreakThresholdPercent float64
}
