package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"habitcore/services/tracker"

	"gorm.io/datatypes"
)

const (
	SourceUser       = "user"
	SourceMarkMissed = "mark_missed"
)

// StatusEntry is one append-only transition of a task occurrence. Entries of
// the same occurrence form a hash chain ordered by Sequence.
type StatusEntry struct {
	ID             string             `gorm:"column:id;primaryKey;type:varchar(32)"`
	TaskInstanceID string             `gorm:"column:task_instance_id;type:varchar(32);not null;uniqueIndex:idx_status_entry_seq"`
	Sequence       int64              `gorm:"column:sequence;not null;uniqueIndex:idx_status_entry_seq"`
	FromStatus     tracker.TaskStatus `gorm:"column:from_status;type:varchar(16);not null"`
	ToStatus       tracker.TaskStatus `gorm:"column:to_status;type:varchar(16);not null"`
	Source         string             `gorm:"column:source;type:varchar(32);not null"`
	OccurredAt     time.Time          `gorm:"column:occurred_at;not null"`
	PreviousHash   string             `gorm:"column:previous_hash;type:varchar(64)"`
	Hash           string             `gorm:"column:hash;type:varchar(64);not null"`
	Metadata       datatypes.JSON     `gorm:"column:metadata"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (StatusEntry) TableName() string {
	return "task_status_entries"
}

func Models() []any {
	return []any{&StatusEntry{}}
}

func (e *StatusEntry) HashFields() map[string]string {
	return map[string]string{
		"id":               e.ID,
		"task_instance_id": e.TaskInstanceID,
		"sequence":         fmt.Sprintf("%d", e.Sequence),
		"from_status":      string(e.FromStatus),
		"to_status":        string(e.ToStatus),
		"source":           e.Source,
		"occurred_at":      e.OccurredAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":    e.PreviousHash,
	}
}

func (e *StatusEntry) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// TaskView is a task occurrence after a status write.
type TaskView struct {
	Task     *tracker.TaskInstance
	Previous tracker.TaskStatus
	// Changed is false when the write was a same-status no-op.
	Changed bool
}

// Change describes a committed-to-be transition handed to the Dispatcher.
type Change struct {
	TaskID            string
	TrackerInstanceID string
	TrackerID         string
	TemplateID        string
	From              tracker.TaskStatus
	To                tracker.TaskStatus
	At                time.Time
}
