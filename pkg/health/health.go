package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module checks dependencies once on start and refuses to boot the worker
// when one is down.
var Module = fx.Module("health",
	fx.Provide(ProvideHealth),
	fx.Invoke(checkOnStart),
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps"`
}

func (h *Health) Healthy() bool {
	return h.Status == StatusHealthy
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type HealthService interface {
	Readiness(ctx context.Context) *Health
}

type health struct {
	db    *gorm.DB
	redis redis.Cmdable
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	h := &health{db: p.DB}
	if p.Redis != nil {
		h.redis = p.Redis
	}
	return h
}

func (h *health) Readiness(ctx context.Context) *Health {
	this := &Health{
		Status:  StatusHealthy,
		Message: "OK",
	}

	deps := make([]Dependency, 0, 2)
	if h.db != nil {
		dep := Dependency{Name: h.db.Name(), Status: StatusHealthy, Message: "OK"}

		sql, err := h.db.DB()
		if err == nil {
			err = sql.PingContext(ctx)
		}
		if err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
		}
		deps = append(deps, dep)
	}

	if h.redis != nil {
		dep := Dependency{Name: "redis", Status: StatusHealthy, Message: "OK"}
		if err := h.redis.Ping(ctx).Err(); err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
		}
		deps = append(deps, dep)
	}

	for _, d := range deps {
		if d.Status != StatusHealthy {
			this.Status = StatusUnhealthy
			this.Message = fmt.Sprintf("%s is unavailable", d.Name)
			break
		}
	}
	this.Deps = deps
	return this
}

func checkOnStart(lc fx.Lifecycle, h HealthService) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r := h.Readiness(ctx)
			for _, d := range r.Deps {
				zap.L().Info("[health] dependency", zap.String("name", d.Name), zap.String("status", d.Status), zap.String("message", d.Message))
			}
			if !r.Healthy() {
				return fmt.Errorf("readiness check failed: %s", r.Message)
			}
			return nil
		},
	})
}
