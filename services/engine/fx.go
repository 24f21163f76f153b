package engine

import (
	"context"

	"habitcore/services/goal"
	"habitcore/services/ledger"
	"habitcore/services/notification"
	"habitcore/services/preference"
	"habitcore/services/recalc"
	"habitcore/services/streak"
	"habitcore/services/tracker"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("engine",
	preference.Module,
	tracker.Module,
	goal.Module,
	streak.Module,
	ledger.Module,
	notification.Module,
	recalc.Module,
	fx.Provide(New),
	fx.Invoke(runMigrations),
)

// Run after DB initialized
func runMigrations(lc fx.Lifecycle, db *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return Migrate(ctx, db)
		},
	})
}
