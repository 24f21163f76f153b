package engine

import (
	"context"

	"habitcore/services/goal"
	"habitcore/services/ledger"
	"habitcore/services/maintenance"
	"habitcore/services/preference"
	"habitcore/services/tracker"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table of the engine in migration order.
func Models() []any {
	var out []any
	out = append(out, &preference.UserPreference{})
	out = append(out, tracker.Models()...)
	out = append(out, goal.Models()...)
	out = append(out, ledger.Models()...)
	out = append(out, maintenance.Models()...)
	return out
}

func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		zap.L().Error("[migrate] failed to migrate engine tables", zap.Error(err))
		return err
	}
	zap.L().Info("[migrate] engine tables up to date")
	return nil
}
