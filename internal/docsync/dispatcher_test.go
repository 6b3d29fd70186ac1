package docsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/darkroom/internal/events"
	"github.com/zulandar/darkroom/internal/models"
	"github.com/zulandar/darkroom/internal/synclog"
	"github.com/zulandar/darkroom/internal/task"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Task{}, &models.SyncLog{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// fakeSyncer fails the first `failures` pushes.
type fakeSyncer struct {
	mu       sync.Mutex
	failures int
	pushed   []string
}

func (f *fakeSyncer) Push(_ context.Context, t *models.Task) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, t.ID)
	if f.failures > 0 {
		f.failures--
		return "", errors.New("backend unavailable")
	}
	return "rec-" + t.ID, nil
}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

func newTestDispatcher(t *testing.T, syncer Syncer) (*Dispatcher, *task.Store, *gorm.DB) {
	t.Helper()
	db := testDB(t)
	store, err := task.NewStore(task.StoreOpts{DB: db})
	require.NoError(t, err)
	d, err := NewDispatcher(DispatcherOpts{Syncer: syncer, Tasks: store, DB: db, MaxRetries: 2})
	require.NoError(t, err)
	return d, store, db
}

func TestNewDispatcher_Validation(t *testing.T) {
	_, err := NewDispatcher(DispatcherOpts{})
	assert.Error(t, err)
}

func TestSync_Success(t *testing.T) {
	syncer := &fakeSyncer{}
	d, store, db := newTestDispatcher(t, syncer)
	ctx := context.Background()

	tk, err := store.Create(ctx, task.CreateOpts{Prompt: "p"})
	require.NoError(t, err)

	require.NoError(t, d.Sync(ctx, tk.ID, models.ModifierWeb, "create"))

	got, err := store.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)
	assert.Equal(t, "rec-"+tk.ID, got.ExternalRecordID)
	assert.Equal(t, 1, got.Version, "sync bookkeeping does not bump the version")

	logs, err := synclog.List(ctx, db, synclog.ListFilters{EntityID: tk.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SyncLogSuccess, logs[0].Status)
	assert.Equal(t, "create", logs[0].Action)
}

func TestSync_FailureThenRetry(t *testing.T) {
	syncer := &fakeSyncer{failures: 1}
	d, store, db := newTestDispatcher(t, syncer)
	ctx := context.Background()

	tk, err := store.Create(ctx, task.CreateOpts{Prompt: "p"})
	require.NoError(t, err)

	require.Error(t, d.Sync(ctx, tk.ID, models.ModifierWeb, "create"))
	got, err := store.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, got.SyncStatus)

	retryable, err := synclog.ListRetryable(ctx, db, 0)
	require.NoError(t, err)
	require.Len(t, retryable, 1)

	n, err := d.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = store.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)

	entry, err := synclog.Get(ctx, db, retryable[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncLogSuccess, entry.Status)
	assert.Equal(t, 1, entry.RetryCount)
}

func TestRetryPending_ExhaustsRetries(t *testing.T) {
	syncer := &fakeSyncer{failures: 10}
	d, store, db := newTestDispatcher(t, syncer)
	ctx := context.Background()

	tk, err := store.Create(ctx, task.CreateOpts{Prompt: "p"})
	require.NoError(t, err)
	require.Error(t, d.Sync(ctx, tk.ID, models.ModifierAPI, "create"))

	for i := 0; i < 5; i++ {
		_, err := d.RetryPending(ctx)
		require.NoError(t, err)
	}

	logs, err := synclog.List(ctx, db, synclog.ListFilters{EntityID: tk.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SyncLogFailed, logs[0].Status)
	assert.Equal(t, 2, logs[0].RetryCount)
	assert.Equal(t, 3, syncer.count(), "one attempt plus two retries")
}

func TestSync_DeletedTaskSkipped(t *testing.T) {
	syncer := &fakeSyncer{}
	d, _, db := newTestDispatcher(t, syncer)

	require.NoError(t, d.Sync(context.Background(), "gone", models.ModifierWeb, "update"))
	assert.Zero(t, syncer.count())

	logs, err := synclog.List(context.Background(), db, synclog.ListFilters{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestRetryPending_DeletedTaskAbandoned(t *testing.T) {
	syncer := &fakeSyncer{failures: 1}
	d, store, db := newTestDispatcher(t, syncer)
	ctx := context.Background()

	tk, err := store.Create(ctx, task.CreateOpts{Prompt: "p"})
	require.NoError(t, err)
	require.Error(t, d.Sync(ctx, tk.ID, models.ModifierWeb, "create"))
	require.NoError(t, store.Delete(ctx, tk.ID))

	n, err := d.RetryPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, syncer.count(), "no push for a deleted task")

	logs, err := synclog.List(ctx, db, synclog.ListFilters{EntityID: tk.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SyncLogFailed, logs[0].Status)
	assert.Equal(t, "task deleted", logs[0].ErrorMessage)

	retryable, err := synclog.ListRetryable(ctx, db, 0)
	require.NoError(t, err)
	assert.Empty(t, retryable)
}

func TestHandle_FiltersKinds(t *testing.T) {
	syncer := &fakeSyncer{}
	d, store, _ := newTestDispatcher(t, syncer)
	ctx := context.Background()
	tk, err := store.Create(ctx, task.CreateOpts{Prompt: "p"})
	require.NoError(t, err)

	d.Handle(ctx, events.Event{Kind: events.TaskProgress, TaskID: tk.ID})
	d.Handle(ctx, events.Event{Kind: events.TaskConflict, TaskID: tk.ID})
	d.Handle(ctx, events.Event{Kind: events.TaskFailed, TaskID: tk.ID, Reason: "deleted"})
	assert.Zero(t, syncer.count())

	d.Handle(ctx, events.Event{Kind: events.TaskCompleted, TaskID: tk.ID, Modifier: "bogus"})
	assert.Equal(t, 1, syncer.count())
}

func TestRun_ConsumesBus(t *testing.T) {
	syncer := &fakeSyncer{}
	db := testDB(t)
	bus := events.NewBus(nil)
	defer bus.Close()

	store, err := task.NewStore(task.StoreOpts{DB: db, Events: bus})
	require.NoError(t, err)
	d, err := NewDispatcher(DispatcherOpts{Syncer: syncer, Tasks: store, DB: db})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		d.Run(ctx, ch)
		close(done)
	}()

	tk, err := store.Create(ctx, task.CreateOpts{Prompt: "p"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), tk.ID)
		return err == nil && got.SyncStatus == models.SyncSynced
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestSchedule_BadExpression(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeSyncer{})
	assert.Error(t, d.Schedule(context.Background(), "every five minutes"))
}

func TestSchedule_Valid(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeSyncer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.NoError(t, d.Schedule(ctx, "*/5 * * * *"))
}
