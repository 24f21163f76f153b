package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
)

const (
	EventGoalAchieved    = "goal.achieved"
	EventStreakMilestone = "streak.milestone"
)

type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaNotifier publishes events to one topic, keyed by the owner so a user's
// events stay ordered within a partition.
type KafkaNotifier struct {
	producer producer
	topic    string
}

func NewKafkaNotifier(addrs, topic string) (*KafkaNotifier, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  addrs,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &KafkaNotifier{producer: p, topic: topic}, nil
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (n *KafkaNotifier) GoalAchieved(ctx context.Context, e GoalAchieved) error {
	return n.publish(ctx, EventGoalAchieved, e.OwnerID, e)
}

func (n *KafkaNotifier) StreakMilestone(ctx context.Context, e StreakMilestone) error {
	return n.publish(ctx, EventStreakMilestone, e.OwnerID, e)
}

func (n *KafkaNotifier) publish(ctx context.Context, eventType, key string, data any) error {
	value, err := json.Marshal(envelope{Type: eventType, Data: data})
	if err != nil {
		return err
	}

	delivery := make(chan kafka.Event, 1)
	err = n.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &n.topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
		Headers:        []kafka.Header{{Key: "event_type", Value: []byte(eventType)}},
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce %s: %w", eventType, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-delivery:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %v", ev)
		}
		if m.TopicPartition.Error != nil {
			zap.L().Error("kafka delivery failed", zap.String("event_type", eventType), zap.Error(m.TopicPartition.Error))
			return m.TopicPartition.Error
		}
	}
	return nil
}

func (n *KafkaNotifier) Close() {
	if remaining := n.producer.Flush(5000); remaining > 0 {
		zap.L().Warn("kafka producer closed with undelivered messages", zap.Int("remaining", remaining))
	}
	n.producer.Close()
}
