package goal

import (
	"context"
	"math"
	"time"

	"habitcore/services/tracker"

	"gorm.io/gorm"
)

// contribution is one live mapping with the completion counts of its template.
type contribution struct {
	MappingID  string  `gorm:"column:mapping_id"`
	TemplateID string  `gorm:"column:template_id"`
	Weight     float64 `gorm:"column:contribution_weight"`
	Total      int64   `gorm:"column:total"`
	Done       int64   `gorm:"column:done"`
}

func (c contribution) rate() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Done) / float64(c.Total)
}

// contributions counts task occurrences per live mapping of a goal. Mappings of
// deleted templates drop out; occurrences of deleted or legacy periods are not
// counted.
func contributions(ctx context.Context, tx *gorm.DB, goalID string) ([]contribution, error) {
	livePeriods := tx.Model(&tracker.TrackerInstance{}).Select("id").
		Where("status = ?", tracker.InstanceActive)

	var rows []contribution
	err := tx.WithContext(ctx).
		Table("goal_task_mappings AS m").
		Select(`m.id AS mapping_id, m.template_id, m.contribution_weight,
			COUNT(ti.id) AS total,
			COALESCE(SUM(CASE WHEN ti.status = ? THEN 1 ELSE 0 END), 0) AS done`, tracker.StatusDone).
		Joins("JOIN task_templates tt ON tt.id = m.template_id AND tt.deleted_at IS NULL").
		Joins("LEFT JOIN task_instances ti ON ti.template_id = m.template_id AND ti.deleted_at IS NULL AND ti.tracker_instance_id IN (?)", livePeriods).
		Where("m.goal_id = ? AND m.deleted_at IS NULL", goalID).
		Group("m.id, m.template_id, m.contribution_weight").
		Order("m.id").
		Scan(&rows).Error
	return rows, err
}

// aggregate folds contributions into a weighted percentage and a raw done count.
func aggregate(rows []contribution) (progress float64, current int64) {
	var weighted, total float64
	for _, r := range rows {
		weighted += r.rate() * r.Weight
		total += r.Weight
		current += r.Done
	}
	if total > 0 {
		progress = 100 * weighted / total
	}
	return clamp(progress, 0, 100), current
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// nextStatus applies the target to the freshly computed count. Abandoned is
// terminal for the aggregator.
func nextStatus(prev Status, target *int64, current int64) Status {
	if prev == StatusAbandoned {
		return prev
	}
	if target != nil && current >= *target {
		return StatusAchieved
	}
	return StatusActive
}

// onTrack projects the current daily velocity to the target date.
func onTrack(status Status, current int64, target *int64, start time.Time, targetDate *time.Time, today time.Time) bool {
	if target == nil || targetDate == nil {
		return status == StatusAchieved
	}

	elapsed := math.Max(days(start, today), 1)
	remaining := math.Max(days(today, *targetDate), 0)
	velocity := float64(current) / elapsed

	return float64(current)+velocity*remaining >= float64(*target)
}

func days(from, to time.Time) float64 {
	return math.Floor(to.Sub(from).Hours() / 24)
}
