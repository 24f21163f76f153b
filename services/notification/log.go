package notification

import (
	"context"

	"habitcore/pkg/logger"

	"go.uber.org/zap"
)

// LogNotifier only logs events. Used when no delivery backend is configured.
type LogNotifier struct{}

func (LogNotifier) GoalAchieved(ctx context.Context, e GoalAchieved) error {
	logger.FromContext(ctx).Info("goal achieved",
		zap.String("goal_id", e.GoalID),
		zap.String("owner_id", e.OwnerID),
		zap.Int64("target_value", e.TargetValue),
	)
	return nil
}

func (LogNotifier) StreakMilestone(ctx context.Context, e StreakMilestone) error {
	logger.FromContext(ctx).Info("streak milestone reached",
		zap.String("tracker_id", e.TrackerID),
		zap.Int("milestone", e.Milestone),
		zap.Int("current_streak", e.CurrentStreak),
	)
	return nil
}
