package ledger

import (
	"context"
	"encoding/json"
	"time"

	"habitcore/pkg/db/option"
	"habitcore/pkg/errutil"
	"habitcore/pkg/logger"
	"habitcore/pkg/repository"
	"habitcore/services/tracker"

	"github.com/bwmarrin/snowflake"
	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	tracer = otel.Tracer("habitcore/services/ledger")

	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "habitcore_task_status_transitions_total",
		Help: "Task occurrence status transitions by target status.",
	}, []string{"to"})
)

// AfterCommit runs once the status transaction has committed.
type AfterCommit func(ctx context.Context)

// Dispatcher reacts to status transitions inside the writing transaction.
type Dispatcher interface {
	OnStatusChanged(ctx context.Context, tx *gorm.DB, changes []Change) (AfterCommit, error)
}

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      clock.Clock
	dispatcher Dispatcher

	tasks   repository.Repository[tracker.TaskInstance]
	entries repository.Repository[StatusEntry]
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Clock      clock.Clock
	Dispatcher Dispatcher `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		clock:      p.Clock,
		dispatcher: p.Dispatcher,

		tasks:   repository.ProvideStore[tracker.TaskInstance](p.DB),
		entries: repository.ProvideStore[StatusEntry](p.DB),
	}
}

// SetStatus moves a task occurrence to status. Writing the current status is a
// no-op. Completion timestamps follow the transition: entering DONE stamps
// completed_at and, only the first time, first_completed_at; leaving DONE
// clears completed_at.
func (s *Service) SetStatus(ctx context.Context, taskID string, status tracker.TaskStatus) (*TaskView, error) {
	ctx, span := tracer.Start(ctx, "ledger.SetStatus")
	defer span.End()

	if !status.Valid() {
		return nil, errutil.ValidationFailed("unknown task status", nil, errutil.WithField("status", string(status)))
	}

	var (
		view  *TaskView
		after AfterCommit
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := s.lockTask(ctx, tx, taskID)
		if err != nil {
			return err
		}

		view = &TaskView{Task: task, Previous: task.Status}
		if task.Status == status {
			return nil
		}

		change, err := s.apply(ctx, tx, task, status, SourceUser)
		if err != nil {
			return err
		}
		view.Changed = true

		if s.dispatcher != nil {
			after, err = s.dispatcher.OnStatusChanged(ctx, tx, []Change{change})
			return err
		}
		return nil
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to set task status",
			zap.String("task_id", taskID), zap.String("status", string(status)), zap.Error(err))
		return nil, err
	}

	if after != nil {
		after(ctx)
	}
	return view, nil
}

// MarkMissed sets every TODO occurrence of the given instances to MISSED in
// one transaction and returns how many changed.
func (s *Service) MarkMissed(ctx context.Context, instanceIDs []string) (int, error) {
	ctx, span := tracer.Start(ctx, "ledger.MarkMissed")
	defer span.End()

	if len(instanceIDs) == 0 {
		return 0, nil
	}

	var (
		changes []Change
		after   AfterCommit
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tasks []*tracker.TaskInstance
		err := option.LockingUpdate(tx.WithContext(ctx)).
			Where("tracker_instance_id IN ? AND status = ?", instanceIDs, tracker.StatusTodo).
			Order("id ASC").
			Find(&tasks).Error
		if err != nil {
			return err
		}

		for _, task := range tasks {
			change, err := s.apply(ctx, tx, task, tracker.StatusMissed, SourceMarkMissed)
			if err != nil {
				return err
			}
			changes = append(changes, change)
		}

		if s.dispatcher != nil && len(changes) > 0 {
			after, err = s.dispatcher.OnStatusChanged(ctx, tx, changes)
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if after != nil {
		after(ctx)
	}
	return len(changes), nil
}

func (s *Service) lockTask(ctx context.Context, tx *gorm.DB, taskID string) (*tracker.TaskInstance, error) {
	if taskID == "" {
		return nil, errutil.ValidationFailed("task id is required", nil)
	}
	task, err := s.tasks.WithTrx(tx).FindOne(ctx, &tracker.TaskInstance{ID: taskID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errutil.NotFound("task instance not found", nil, errutil.WithField("task_id", taskID))
	}
	return task, nil
}

// apply persists the transition on a locked task and appends its ledger entry.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, task *tracker.TaskInstance, status tracker.TaskStatus, source string) (Change, error) {
	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	prev := task.Status

	updates := map[string]any{"status": status}
	switch {
	case status == tracker.StatusDone:
		updates["completed_at"] = now
		task.CompletedAt = &now
		if task.FirstCompletedAt == nil {
			updates["first_completed_at"] = now
			task.FirstCompletedAt = &now
		}
	case prev == tracker.StatusDone:
		updates["completed_at"] = nil
		task.CompletedAt = nil
	}
	if err := s.tasks.WithTrx(tx).Update(ctx, task.ID, updates); err != nil {
		return Change{}, err
	}
	task.Status = status

	var inst tracker.TrackerInstance
	if err := tx.WithContext(ctx).Unscoped().Select("id", "tracker_id").Where("id = ?", task.TrackerInstanceID).Take(&inst).Error; err != nil {
		return Change{}, err
	}

	change := Change{
		TaskID:            task.ID,
		TrackerInstanceID: task.TrackerInstanceID,
		TrackerID:         inst.TrackerID,
		TemplateID:        task.TemplateID,
		From:              prev,
		To:                status,
		At:                now,
	}
	if err := s.append(ctx, tx, change, source); err != nil {
		return Change{}, err
	}

	transitions.WithLabelValues(string(status)).Inc()
	return change, nil
}

func (s *Service) append(ctx context.Context, tx *gorm.DB, c Change, source string) error {
	last, err := s.entries.WithTrx(tx).FindOne(ctx, &StatusEntry{TaskInstanceID: c.TaskID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "sequence",
		OrderBy: "desc",
		Allow:   map[string]bool{"sequence": true},
	}))
	if err != nil {
		return err
	}

	metadata, err := json.Marshal(map[string]string{
		"tracker_id":          c.TrackerID,
		"tracker_instance_id": c.TrackerInstanceID,
		"template_id":         c.TemplateID,
	})
	if err != nil {
		return err
	}

	entry := &StatusEntry{
		ID:             s.node.Generate().String(),
		TaskInstanceID: c.TaskID,
		Sequence:       1,
		FromStatus:     c.From,
		ToStatus:       c.To,
		Source:         source,
		OccurredAt:     c.At,
		Metadata:       datatypes.JSON(metadata),
	}
	if last != nil {
		entry.Sequence = last.Sequence + 1
		entry.PreviousHash = last.Hash
	}
	entry.Hash = entry.GenerateHash()

	return s.entries.WithTrx(tx).Create(ctx, entry)
}

func (s *Service) GetTask(ctx context.Context, taskID string) (*tracker.TaskInstance, error) {
	if taskID == "" {
		return nil, errutil.ValidationFailed("task id is required", nil)
	}
	task, err := s.tasks.FindOne(ctx, &tracker.TaskInstance{ID: taskID})
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errutil.NotFound("task instance not found", nil, errutil.WithField("task_id", taskID))
	}
	return task, nil
}

// History returns the transitions of a task occurrence, oldest first.
func (s *Service) History(ctx context.Context, taskID string) ([]*StatusEntry, error) {
	if taskID == "" {
		return nil, errutil.ValidationFailed("task id is required", nil)
	}
	return s.entries.Find(ctx, &StatusEntry{TaskInstanceID: taskID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "sequence",
		OrderBy: "asc",
		Allow:   map[string]bool{"sequence": true},
	}))
}

// VerifyChain reports whether the transition history of a task is intact.
func (s *Service) VerifyChain(ctx context.Context, taskID string) (bool, error) {
	entries, err := s.History(ctx, taskID)
	if err != nil {
		return false, err
	}

	prevHash := ""
	for i, e := range entries {
		if e.Sequence != int64(i+1) || e.PreviousHash != prevHash || e.GenerateHash() != e.Hash {
			zap.L().Warn("task status chain broken",
				zap.String("task_id", taskID), zap.Int64("sequence", e.Sequence))
			return false, nil
		}
		prevHash = e.Hash
	}
	return true, nil
}
