package tracker

import (
	"time"

	"habitcore/services/period"

	"gorm.io/gorm"
)

type TrackerStatus string

const (
	TrackerActive   TrackerStatus = "active"
	TrackerArchived TrackerStatus = "archived"
	TrackerLegacy   TrackerStatus = "legacy"
)

type InstanceStatus string

const (
	InstanceActive InstanceStatus = "active"
	InstanceLegacy InstanceStatus = "legacy"
)

type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusDone       TaskStatus = "DONE"
	StatusSkipped    TaskStatus = "SKIPPED"
	StatusMissed     TaskStatus = "MISSED"
	StatusBlocked    TaskStatus = "BLOCKED"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone, StatusSkipped, StatusMissed, StatusBlocked:
		return true
	}
	return false
}

type TrackerDefinition struct {
	ID             string         `gorm:"column:id;primaryKey;type:varchar(32)"`
	OwnerID        string         `gorm:"column:owner_id;index;type:varchar(64);not null"`
	Name           string         `gorm:"column:name;type:varchar(200);not null"`
	Slug           string         `gorm:"column:slug;index;type:varchar(200)"`
	RecurrenceMode period.Mode    `gorm:"column:recurrence_mode;type:varchar(16);not null"`
	CustomUnit     period.Unit    `gorm:"column:custom_unit;type:varchar(16)"`
	WeekStartDay   int            `gorm:"column:week_start_day;not null"`
	Status         TrackerStatus  `gorm:"column:status;type:varchar(16);not null;default:'active'"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt      gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (TrackerDefinition) TableName() string {
	return "tracker_definitions"
}

// Unit is the atomic period of the tracker's current recurrence mode.
func (t *TrackerDefinition) Unit() (period.Unit, error) {
	return period.ModeUnit(t.RecurrenceMode, t.CustomUnit)
}

func (t *TrackerDefinition) WeekStart() time.Weekday {
	return time.Weekday(t.WeekStartDay)
}

type TaskTemplate struct {
	ID            string         `gorm:"column:id;primaryKey;type:varchar(32)"`
	TrackerID     string         `gorm:"column:tracker_id;index;type:varchar(32);not null"`
	Description   string         `gorm:"column:description;type:text;not null"`
	Points        int            `gorm:"column:points;not null;default:0"`
	Weight        int            `gorm:"column:weight;not null;default:0"`
	IncludeInGoal bool           `gorm:"column:include_in_goal;not null"`
	IsRecurring   bool           `gorm:"column:is_recurring;not null"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt     gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (TaskTemplate) TableName() string {
	return "task_templates"
}

func (t *TaskTemplate) Snapshot() TaskSnapshot {
	return TaskSnapshot{Description: t.Description, Points: t.Points, Weight: t.Weight}
}

type TrackerInstance struct {
	ID           string         `gorm:"column:id;primaryKey;type:varchar(32)"`
	TrackerID    string         `gorm:"column:tracker_id;type:varchar(32);not null;uniqueIndex:idx_tracker_instance_date,where:deleted_at IS NULL"`
	TrackingDate time.Time      `gorm:"column:tracking_date;type:date;not null;uniqueIndex:idx_tracker_instance_date,where:deleted_at IS NULL"`
	PeriodStart  time.Time      `gorm:"column:period_start;type:date;not null;<-:create"`
	PeriodEnd    time.Time      `gorm:"column:period_end;type:date;not null;<-:create"`
	Status       InstanceStatus `gorm:"column:status;type:varchar(16);not null;default:'active'"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt    gorm.DeletedAt `gorm:"column:deleted_at;index"`

	Tasks []TaskInstance `gorm:"foreignKey:TrackerInstanceID"`
}

func (TrackerInstance) TableName() string {
	return "tracker_instances"
}

// TaskSnapshot is the template state frozen into a task occurrence. Its
// columns are insert-only.
type TaskSnapshot struct {
	Description string `gorm:"column:description;type:text;<-:create"`
	Points      int    `gorm:"column:points;<-:create"`
	Weight      int    `gorm:"column:weight;<-:create"`
}

type TaskInstance struct {
	ID                string         `gorm:"column:id;primaryKey;type:varchar(32)"`
	TrackerInstanceID string         `gorm:"column:tracker_instance_id;index;type:varchar(32);not null"`
	TemplateID        string         `gorm:"column:template_id;index;type:varchar(32);not null"`
	Status            TaskStatus     `gorm:"column:status;type:varchar(16);not null;default:'TODO'"`
	Snapshot          TaskSnapshot   `gorm:"embedded;embeddedPrefix:snapshot_"`
	FirstCompletedAt  *time.Time     `gorm:"column:first_completed_at"`
	CompletedAt       *time.Time     `gorm:"column:completed_at"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt         gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (TaskInstance) TableName() string {
	return "task_instances"
}

// Models lists the tables owned by this package, in migration order.
func Models() []any {
	return []any{&TrackerDefinition{}, &TaskTemplate{}, &TrackerInstance{}, &TaskInstance{}}
}
