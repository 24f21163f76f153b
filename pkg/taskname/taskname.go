package taskname

const (
	// Maintenance tasks
	TrackerFillGaps = "tracker:fill_gaps"
	GoalRecalculate = "goal:recalculate"

	// Notification tasks
	NotifyGoalAchieved    = "notify:goal_achieved"
	NotifyStreakMilestone = "notify:streak_milestone"
)
