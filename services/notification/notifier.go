package notification

//go:generate mockgen -source=notifier.go -destination=mock_notifier.go -package=notification

import (
	"context"
	"time"
)

type GoalAchieved struct {
	GoalID       string    `json:"goal_id"`
	OwnerID      string    `json:"owner_id"`
	Title        string    `json:"title"`
	TargetValue  int64     `json:"target_value"`
	CurrentValue int64     `json:"current_value"`
	AchievedAt   time.Time `json:"achieved_at"`
}

type StreakMilestone struct {
	TrackerID     string    `json:"tracker_id"`
	OwnerID       string    `json:"owner_id"`
	Milestone     int       `json:"milestone"`
	CurrentStreak int       `json:"current_streak"`
	RunStart      time.Time `json:"run_start"`
	AsOf          time.Time `json:"as_of"`
}

// Notifier hands engine events to whatever delivers them to users.
type Notifier interface {
	GoalAchieved(ctx context.Context, e GoalAchieved) error
	StreakMilestone(ctx context.Context, e StreakMilestone) error
}

// Debouncer admits a key once per window.
type Debouncer interface {
	Acquire(ctx context.Context, key string) (bool, error)
}
