package notification

import (
	"context"
	"time"

	"habitcore/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisDebouncer struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisDebouncer(rdb redis.Cmdable, ttl time.Duration) *RedisDebouncer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDebouncer{rdb: rdb, ttl: ttl}
}

func (d *RedisDebouncer) Acquire(ctx context.Context, key string) (bool, error) {
	return d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
}

// Debounced drops events whose key was already admitted by the debouncer.
type Debounced struct {
	next      Notifier
	debouncer Debouncer
}

func NewDebounced(next Notifier, d Debouncer) *Debounced {
	return &Debounced{next: next, debouncer: d}
}

func (n *Debounced) GoalAchieved(ctx context.Context, e GoalAchieved) error {
	if !n.admit(ctx, rediskey.BuildGoalAchievedKey(e.GoalID, e.TargetValue)) {
		return nil
	}
	return n.next.GoalAchieved(ctx, e)
}

func (n *Debounced) StreakMilestone(ctx context.Context, e StreakMilestone) error {
	if !n.admit(ctx, rediskey.BuildStreakMilestoneKey(e.TrackerID, e.RunStart, e.Milestone)) {
		return nil
	}
	return n.next.StreakMilestone(ctx, e)
}

// admit fails open on debouncer errors.
func (n *Debounced) admit(ctx context.Context, key string) bool {
	ok, err := n.debouncer.Acquire(ctx, key)
	if err != nil {
		zap.L().Warn("debounce check failed", zap.String("key", key), zap.Error(err))
		return true
	}
	if !ok {
		zap.L().Debug("notification debounced", zap.String("key", key))
	}
	return ok
}
