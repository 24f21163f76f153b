package maintenance

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Job is an execution record for one enqueued maintenance task.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey;type:varchar(32)"`
	TaskType    string         `gorm:"column:task_type;index;type:varchar(64);not null"`
	SubjectID   string         `gorm:"column:subject_id;index;type:varchar(32);not null"`
	Status      JobStatus      `gorm:"column:status;type:varchar(20);not null"`
	Attempts    int            `gorm:"column:attempts;not null"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text"`
	StartedAt   *time.Time     `gorm:"column:started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
}

func (Job) TableName() string {
	return "maintenance_jobs"
}

func Models() []any {
	return []any{&Job{}}
}

type FillGapsPayload struct {
	JobID      string `json:"job_id"`
	TrackerID  string `json:"tracker_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
	MarkMissed bool   `json:"mark_missed"`
}

type RecalculatePayload struct {
	JobID  string `json:"job_id"`
	GoalID string `json:"goal_id"`
}
