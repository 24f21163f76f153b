package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"habitcore/pkg/rediskey"
	"habitcore/pkg/taskname"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestDebouncedDropsRepeatedGoalAchieved(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := NewMockNotifier(ctrl)
	deb := NewMockDebouncer(ctrl)

	e := GoalAchieved{GoalID: "goal-1", TargetValue: 7}
	key := rediskey.BuildGoalAchievedKey("goal-1", 7)

	gomock.InOrder(
		deb.EXPECT().Acquire(gomock.Any(), key).Return(true, nil),
		next.EXPECT().GoalAchieved(gomock.Any(), e).Return(nil),
		deb.EXPECT().Acquire(gomock.Any(), key).Return(false, nil),
	)

	n := NewDebounced(next, deb)
	require.NoError(t, n.GoalAchieved(context.Background(), e))
	require.NoError(t, n.GoalAchieved(context.Background(), e))
}

func TestDebouncedFailsOpen(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := NewMockNotifier(ctrl)
	deb := NewMockDebouncer(ctrl)

	runStart := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	e := StreakMilestone{TrackerID: "tracker-1", Milestone: 7, RunStart: runStart}

	deb.EXPECT().Acquire(gomock.Any(), rediskey.BuildStreakMilestoneKey("tracker-1", runStart, 7)).Return(false, errors.New("redis down"))
	next.EXPECT().StreakMilestone(gomock.Any(), e).Return(nil)

	require.NoError(t, NewDebounced(next, deb).StreakMilestone(context.Background(), e))
}

type setNXCmdable struct {
	redis.Cmdable
	keys map[string]time.Duration
}

func (c *setNXCmdable) SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := c.keys[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	c.keys[key] = ttl
	cmd.SetVal(true)
	return cmd
}

func TestRedisDebouncerAcquire(t *testing.T) {
	rdb := &setNXCmdable{keys: map[string]time.Duration{}}
	d := NewRedisDebouncer(rdb, time.Hour)

	ok, err := d.Acquire(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.Acquire(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, time.Hour, rdb.keys["k"])
}

type fakeProducer struct {
	messages []*kafka.Message
	err      error
}

func (p *fakeProducer) Produce(msg *kafka.Message, delivery chan kafka.Event) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	delivery <- msg
	return nil
}

func (p *fakeProducer) Flush(int) int { return 0 }
func (p *fakeProducer) Close()        {}

func TestKafkaNotifierPublishesEnvelope(t *testing.T) {
	p := &fakeProducer{}
	n := &KafkaNotifier{producer: p, topic: "habitcore.events"}

	err := n.GoalAchieved(context.Background(), GoalAchieved{GoalID: "goal-1", OwnerID: "user-1", TargetValue: 30, CurrentValue: 30})
	require.NoError(t, err)
	require.Len(t, p.messages, 1)

	msg := p.messages[0]
	require.Equal(t, "habitcore.events", *msg.TopicPartition.Topic)
	require.Equal(t, []byte("user-1"), msg.Key)

	var got struct {
		Type string       `json:"type"`
		Data GoalAchieved `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, EventGoalAchieved, got.Type)
	require.Equal(t, "goal-1", got.Data.GoalID)
	require.Equal(t, int64(30), got.Data.TargetValue)
}

func TestKafkaNotifierProduceError(t *testing.T) {
	n := &KafkaNotifier{producer: &fakeProducer{err: errors.New("queue full")}, topic: "t"}

	err := n.StreakMilestone(context.Background(), StreakMilestone{TrackerID: "tracker-1", Milestone: 7})
	require.ErrorContains(t, err, "queue full")
}

type captureEnqueuer struct {
	tasks []*asynq.Task
}

func (c *captureEnqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, t)
	return &asynq.TaskInfo{ID: "task-1", Type: t.Type()}, nil
}

func TestAsynqNotifierEnqueuesTypedTask(t *testing.T) {
	e := &captureEnqueuer{}
	n := NewAsynqNotifier(e)

	require.NoError(t, n.StreakMilestone(context.Background(), StreakMilestone{TrackerID: "tracker-1", Milestone: 14, CurrentStreak: 14}))
	require.Len(t, e.tasks, 1)
	require.Equal(t, taskname.NotifyStreakMilestone, e.tasks[0].Type())

	var got StreakMilestone
	require.NoError(t, json.Unmarshal(e.tasks[0].Payload(), &got))
	require.Equal(t, 14, got.Milestone)
}
