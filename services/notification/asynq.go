package notification

import (
	"context"

	"habitcore/pkg/task"
	"habitcore/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// AsynqNotifier enqueues notify:* tasks for a delivery worker.
type AsynqNotifier struct {
	enqueuer task.Enqueuer
}

func NewAsynqNotifier(e task.Enqueuer) *AsynqNotifier {
	return &AsynqNotifier{enqueuer: e}
}

func (n *AsynqNotifier) GoalAchieved(ctx context.Context, e GoalAchieved) error {
	return n.enqueue(ctx, taskname.NotifyGoalAchieved, e)
}

func (n *AsynqNotifier) StreakMilestone(ctx context.Context, e StreakMilestone) error {
	return n.enqueue(ctx, taskname.NotifyStreakMilestone, e)
}

func (n *AsynqNotifier) enqueue(ctx context.Context, typename string, payload any) error {
	t, err := task.NewJSONTask(typename, payload, asynq.Queue("default"), asynq.MaxRetry(5))
	if err != nil {
		return err
	}
	info, err := n.enqueuer.Enqueue(ctx, t)
	if err != nil {
		zap.L().Error("failed to enqueue notification", zap.String("task_type", typename), zap.Error(err))
		return err
	}
	zap.L().Debug("notification enqueued", zap.String("task_type", typename), zap.String("task_id", info.ID))
	return nil
}
