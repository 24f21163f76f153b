package goal

import (
	"time"

	"gorm.io/gorm"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusAchieved  Status = "achieved"
	StatusAbandoned Status = "abandoned"
)

type Goal struct {
	ID           string     `gorm:"column:id;primaryKey;type:varchar(32)"`
	OwnerID      string     `gorm:"column:owner_id;index;type:varchar(64);not null"`
	TrackerID    string     `gorm:"column:tracker_id;index;type:varchar(32)"`
	Title        string     `gorm:"column:title;type:varchar(200);not null"`
	TargetValue  *int64     `gorm:"column:target_value"`
	CurrentValue int64      `gorm:"column:current_value;not null"`
	Unit         string     `gorm:"column:unit;type:varchar(32)"`
	Progress     float64    `gorm:"column:progress;not null"`
	Status       Status     `gorm:"column:status;type:varchar(16);not null;index"`
	OnTrack      bool       `gorm:"column:on_track;not null"`
	StartDate    time.Time  `gorm:"column:start_date;type:date;not null"`
	TargetDate   *time.Time `gorm:"column:target_date;type:date"`
	AchievedAt   *time.Time `gorm:"column:achieved_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Goal) TableName() string {
	return "goals"
}

// GoalTaskMapping links a goal to a template with a contribution weight.
// Mappings are soft-deleted so past links stay auditable.
type GoalTaskMapping struct {
	ID                 string         `gorm:"column:id;primaryKey;type:varchar(32)"`
	GoalID             string         `gorm:"column:goal_id;type:varchar(32);not null;uniqueIndex:idx_goal_template,where:deleted_at IS NULL"`
	TemplateID         string         `gorm:"column:template_id;type:varchar(32);not null;index;uniqueIndex:idx_goal_template,where:deleted_at IS NULL"`
	ContributionWeight float64        `gorm:"column:contribution_weight;not null"`
	CreatedAt          time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt          gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (GoalTaskMapping) TableName() string {
	return "goal_task_mappings"
}

func Models() []any {
	return []any{&Goal{}, &GoalTaskMapping{}}
}

// Progress is the outcome of one recomputation.
type Progress struct {
	GoalID         string
	Progress       float64
	CurrentValue   int64
	TargetValue    *int64
	Status         Status
	PreviousStatus Status
	OnTrack        bool
	// AchievedNow is set only on the recomputation that moved the goal into achieved.
	AchievedNow bool
}
