package notification

import (
	"context"
	"fmt"

	"habitcore/pkg/config"
	"habitcore/pkg/task"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewNotifier),
)

type Params struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Redis     *redis.Client `optional:"true"`
	Enqueuer  task.Enqueuer `optional:"true"`
}

// NewNotifier builds the backend named by ENGINE.NOTIFIER, debounced through
// redis when a client is available.
func NewNotifier(p Params) (Notifier, error) {
	var n Notifier
	switch p.Config.Engine.Notifier {
	case "", "log":
		n = LogNotifier{}
	case "asynq":
		if p.Enqueuer == nil {
			return nil, fmt.Errorf("asynq notifier requires an asynq client")
		}
		n = NewAsynqNotifier(p.Enqueuer)
	case "kafka":
		k, err := NewKafkaNotifier(p.Config.Kafka.Addrs, p.Config.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				k.Close()
				return nil
			},
		})
		n = k
	default:
		return nil, fmt.Errorf("unknown notifier %q", p.Config.Engine.Notifier)
	}

	zap.L().Info("notifier configured", zap.String("backend", p.Config.Engine.Notifier))
	if p.Redis == nil {
		return n, nil
	}
	return NewDebounced(n, NewRedisDebouncer(p.Redis, p.Config.Engine.DebounceTTL)), nil
}
