package rediskey

import (
	"fmt"
	"time"
)

const (
	GoalAchievedPrefix    = "notify:goal_achieved"
	StreakMilestonePrefix = "notify:streak_milestone"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildGoalAchievedKey returns "notify:goal_achieved:{goalID}:{targetValue}".
// Raising the target yields a new key so a re-achievement notifies again.
func BuildGoalAchievedKey(goalID string, target int64) string {
	return NamespaceKey(GoalAchievedPrefix, fmt.Sprintf("%s:%d", goalID, target))
}

// BuildStreakMilestoneKey returns "notify:streak_milestone:{trackerID}:{runStart}:{milestone}".
// The run start keeps a broken-then-rebuilt streak distinct from the original.
func BuildStreakMilestoneKey(trackerID string, runStart time.Time, milestone int) string {
	return NamespaceKey(StreakMilestonePrefix, fmt.Sprintf("%s:%s:%d", trackerID, runStart.Format("2006-01-02"), milestone))
}
