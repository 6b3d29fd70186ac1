package docsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/darkroom/internal/apperr"
	"github.com/zulandar/darkroom/internal/events"
	"github.com/zulandar/darkroom/internal/models"
	"github.com/zulandar/darkroom/internal/synclog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// retryBatch caps how many logs one RetryPending pass handles.
const retryBatch = 50

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TaskReader is the slice of the task store the dispatcher needs.
type TaskReader interface {
	Get(ctx context.Context, id string) (*models.Task, error)
	SetSyncState(ctx context.Context, id, syncStatus, externalRecordID string) error
}

// Dispatcher pushes tasks to the document backend as their events arrive.
type Dispatcher struct {
	syncer     Syncer
	tasks      TaskReader
	db         *gorm.DB
	log        *zap.Logger
	maxRetries int
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Syncer     Syncer
	Tasks      TaskReader
	DB         *gorm.DB
	Log        *zap.Logger
	MaxRetries int
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Syncer == nil {
		return nil, fmt.Errorf("docsync: syncer is required")
	}
	if opts.Tasks == nil {
		return nil, fmt.Errorf("docsync: task store is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("docsync: db is required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Dispatcher{
		syncer:     opts.Syncer,
		tasks:      opts.Tasks,
		db:         opts.DB,
		log:        opts.Log.Named("docsync"),
		maxRetries: opts.MaxRetries,
	}, nil
}

// Run consumes events until the channel closes or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, evts <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-evts:
			if !ok {
				return
			}
			d.Handle(ctx, evt)
		}
	}
}

// Handle syncs the task behind evt if the event changes what the backend
// shows. Progress ticks and conflicts are not pushed.
func (d *Dispatcher) Handle(ctx context.Context, evt events.Event) {
	var action string
	switch evt.Kind {
	case events.TaskCreated:
		action = "create"
	case events.TaskCompleted, events.TaskFailed, events.TaskUpdated:
		action = "update"
	default:
		return
	}
	if evt.Reason == "deleted" {
		return
	}
	source := evt.Modifier
	if !models.ValidModifier(source) {
		source = models.ModifierAPI
	}
	if err := d.Sync(ctx, evt.TaskID, source, action); err != nil {
		d.log.Warn("sync failed", zap.String("task_id", evt.TaskID),
			zap.String("kind", string(evt.Kind)), zap.Error(err))
	}
}

// Sync pushes one task and records the attempt.
func (d *Dispatcher) Sync(ctx context.Context, taskID, source, action string) error {
	t, err := d.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			d.log.Debug("task gone before sync", zap.String("task_id", taskID))
			return nil
		}
		return err
	}
	entry, err := synclog.Start(ctx, d.db, synclog.StartOpts{
		Source:     source,
		Action:     action,
		EntityType: "task",
		EntityID:   taskID,
		MaxRetries: d.maxRetries,
	})
	if err != nil {
		return err
	}
	return d.attempt(ctx, entry, t)
}

func (d *Dispatcher) attempt(ctx context.Context, entry *models.SyncLog, t *models.Task) error {
	extID, pushErr := d.syncer.Push(ctx, t)
	if pushErr != nil {
		if err := d.tasks.SetSyncState(ctx, t.ID, models.SyncFailed, ""); err != nil {
			d.log.Error("record sync failure", zap.String("task_id", t.ID), zap.Error(err))
		}
		status, err := synclog.MarkFailed(ctx, d.db, entry.ID, pushErr)
		if err != nil {
			d.log.Error("mark sync log failed", zap.Uint("log_id", entry.ID), zap.Error(err))
		} else {
			d.log.Info("sync attempt failed", zap.String("task_id", t.ID),
				zap.Uint("log_id", entry.ID), zap.String("status", status))
		}
		return pushErr
	}

	if err := d.tasks.SetSyncState(ctx, t.ID, models.SyncSynced, extID); err != nil {
		return err
	}
	return synclog.MarkSuccess(ctx, d.db, entry.ID)
}

// RetryPending re-pushes every RETRYING task log and returns how many
// attempts succeeded.
func (d *Dispatcher) RetryPending(ctx context.Context) (int, error) {
	entries, err := synclog.ListRetryable(ctx, d.db, retryBatch)
	if err != nil {
		return 0, err
	}

	synced := 0
	for i := range entries {
		entry := &entries[i]
		if entry.EntityType != "task" {
			continue
		}
		claimed, err := synclog.ClaimRetry(ctx, d.db, entry.ID)
		if err != nil {
			return synced, err
		}
		if !claimed {
			continue
		}

		t, err := d.tasks.Get(ctx, entry.EntityID)
		if errors.Is(err, apperr.ErrNotFound) {
			if err := synclog.Abandon(ctx, d.db, entry.ID, "task deleted"); err != nil {
				d.log.Error("abandon sync log", zap.Uint("log_id", entry.ID), zap.Error(err))
			}
			continue
		}
		if err != nil {
			if _, markErr := synclog.MarkFailed(ctx, d.db, entry.ID, err); markErr != nil {
				d.log.Error("mark sync log failed", zap.Uint("log_id", entry.ID), zap.Error(markErr))
			}
			continue
		}
		if err := d.attempt(ctx, entry, t); err != nil {
			continue
		}
		synced++
	}
	return synced, nil
}

// Schedule runs RetryPending on the given cron expression until ctx is
// cancelled.
func (d *Dispatcher) Schedule(ctx context.Context, expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("docsync: retry cron %q: %w", expr, err)
	}
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(expr, func() {
		n, err := d.RetryPending(ctx)
		if err != nil {
			d.log.Error("retry pass", zap.Error(err))
			return
		}
		if n > 0 {
			d.log.Info("retried syncs", zap.Int("synced", n))
		}
	}); err != nil {
		return fmt.Errorf("docsync: schedule retries: %w", err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
