// Package task provides the generation task store: creation, version-gated
// updates with conflict detection, conflict resolution, and the trusted
// write path used by the workflow callback.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/darkroom/internal/apperr"
	"github.com/zulandar/darkroom/internal/events"
	"github.com/zulandar/darkroom/internal/models"
	"gorm.io/gorm"
)

// Default configuration values for Store.
const (
	DefaultTimeout      = 10 * time.Minute
	DefaultMaxBatchSize = 5
	DefaultAspectRatio  = "1:1"
)

// Store manages Task records.
type Store struct {
	db       *gorm.DB
	events   events.Sink
	timeout  time.Duration
	maxBatch int
	now      func() time.Time
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB           *gorm.DB
	Events       events.Sink      // optional; defaults to events.Discard
	Timeout      time.Duration    // defaults to DefaultTimeout
	MaxBatchSize int              // defaults to DefaultMaxBatchSize
	Now          func() time.Time // defaults to time.Now
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("task: store: db is required")
	}
	s := &Store{
		db:       opts.DB,
		events:   opts.Events,
		timeout:  opts.Timeout,
		maxBatch: opts.MaxBatchSize,
		now:      opts.Now,
	}
	if s.events == nil {
		s.events = events.Discard
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.maxBatch <= 0 {
		s.maxBatch = DefaultMaxBatchSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// CreateOpts holds parameters for creating a task.
type CreateOpts struct {
	UserID          string
	ConversationID  string
	Prompt          string
	OriginalPrompt  string
	OptimizedPrompt string
	InputImages     []string
	SceneImages     []string
	AIModel         string
	AspectRatio     string // defaults to DefaultAspectRatio
	ImageCount      int    // defaults to 1
	Quality         string
	Modifier        string // web, feishu, api; defaults to web
}

// ListFilters holds optional filters for listing tasks.
type ListFilters struct {
	UserID         string
	BatchID        string
	ConversationID string
	Status         string // matched against the effective status
	Limit          int
}

// Create inserts a new PENDING task at version 1.
func (s *Store) Create(ctx context.Context, opts CreateOpts) (*models.Task, error) {
	t, err := s.CreateTx(s.db.WithContext(ctx), opts)
	if err != nil {
		return nil, err
	}
	s.Announce(ctx, t)
	return t, nil
}

// CreateTx inserts a new task inside the caller's transaction. No event is
// emitted; call Announce once the transaction has committed.
func (s *Store) CreateTx(tx *gorm.DB, opts CreateOpts) (*models.Task, error) {
	t, err := s.build(opts)
	if err != nil {
		return nil, err
	}
	if err := tx.Create(t).Error; err != nil {
		return nil, fmt.Errorf("task: create: %w", err)
	}
	return t, nil
}

// Announce emits the created event for a task inserted with CreateTx.
func (s *Store) Announce(ctx context.Context, t *models.Task) {
	s.emit(ctx, events.TaskCreated, t, t.LastModifiedBy, "")
}

// CreateBatch inserts up to MaxBatchSize tasks sharing one batch ID, all or
// nothing. Oversized batches are rejected before anything is written.
func (s *Store) CreateBatch(ctx context.Context, opts []CreateOpts) ([]models.Task, error) {
	if len(opts) == 0 {
		return nil, fmt.Errorf("task: %w: batch is empty", apperr.ErrInvalidInput)
	}
	if len(opts) > s.maxBatch {
		return nil, fmt.Errorf("task: %w: batch of %d exceeds maximum of %d", apperr.ErrInvalidInput, len(opts), s.maxBatch)
	}

	batchID := uuid.NewString()
	tasks := make([]models.Task, 0, len(opts))
	for i, o := range opts {
		t, err := s.build(o)
		if err != nil {
			return nil, fmt.Errorf("batch[%d]: %w", i, err)
		}
		idx := i
		t.BatchID = &batchID
		t.BatchIndex = &idx
		tasks = append(tasks, *t)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range tasks {
			if err := tx.Create(&tasks[i]).Error; err != nil {
				return fmt.Errorf("task: create batch %s[%d]: %w", batchID, i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range tasks {
		s.emit(ctx, events.TaskCreated, &tasks[i], tasks[i].LastModifiedBy, "")
	}
	return tasks, nil
}

func (s *Store) build(opts CreateOpts) (*models.Task, error) {
	if opts.Prompt == "" {
		return nil, fmt.Errorf("task: %w: prompt is required", apperr.ErrInvalidInput)
	}
	if opts.ImageCount < 0 {
		return nil, fmt.Errorf("task: %w: imageCount must be positive", apperr.ErrInvalidInput)
	}
	if opts.ImageCount == 0 {
		opts.ImageCount = 1
	}
	if opts.AspectRatio == "" {
		opts.AspectRatio = DefaultAspectRatio
	}
	if opts.Modifier == "" {
		opts.Modifier = models.ModifierWeb
	}
	if !models.ValidModifier(opts.Modifier) {
		return nil, fmt.Errorf("task: %w: unknown modifier %q", apperr.ErrInvalidInput, opts.Modifier)
	}

	now := s.now()
	t := &models.Task{
		ID:              uuid.NewString(),
		UserID:          opts.UserID,
		Prompt:          opts.Prompt,
		OriginalPrompt:  opts.OriginalPrompt,
		OptimizedPrompt: opts.OptimizedPrompt,
		InputImages:     models.StringList(append([]string{}, opts.InputImages...)),
		SceneImages:     models.StringList(append([]string{}, opts.SceneImages...)),
		ResultImages:    models.StringList{},
		AIModel:         opts.AIModel,
		AspectRatio:     opts.AspectRatio,
		ImageCount:      opts.ImageCount,
		Quality:         opts.Quality,
		Status:          models.StatusPending,
		SyncStatus:      models.SyncPending,
		Version:         1,
		LastModifiedBy:  opts.Modifier,
		LastModifiedAt:  now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if opts.ConversationID != "" {
		t.ConversationID = &opts.ConversationID
	}
	return t, nil
}

// Get retrieves a task by ID with the timeout heuristic applied.
func (s *Store) Get(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.get(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	s.applyTimeout(t)
	return t, nil
}

// get reads the stored record as-is.
func (s *Store) get(db *gorm.DB, id string) (*models.Task, error) {
	var t models.Task
	if err := db.Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task: %w: %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("task: get %s: %w", id, err)
	}
	return &t, nil
}

// List returns tasks matching the filters. Batch listings are ordered by
// batch index, everything else newest first.
func (s *Store) List(ctx context.Context, filters ListFilters) ([]models.Task, error) {
	q := s.db.WithContext(ctx).Model(&models.Task{})

	if filters.UserID != "" {
		q = q.Where("user_id = ?", filters.UserID)
	}
	if filters.ConversationID != "" {
		q = q.Where("conversation_id = ?", filters.ConversationID)
	}
	if filters.BatchID != "" {
		q = q.Where("batch_id = ?", filters.BatchID).Order("batch_index ASC")
	} else {
		q = q.Order("created_at DESC")
	}
	if filters.Status != "" {
		if !models.ValidStatus(filters.Status) {
			return nil, fmt.Errorf("task: %w: unknown status %q", apperr.ErrInvalidInput, filters.Status)
		}
		// A timed-out task is still stored as PENDING or PROCESSING.
		if filters.Status == models.StatusFailed {
			q = q.Where("status IN ?", []string{models.StatusFailed, models.StatusPending, models.StatusProcessing})
		} else {
			q = q.Where("status = ?", filters.Status)
		}
	}

	var tasks []models.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("task: list: %w", err)
	}

	out := tasks[:0]
	for i := range tasks {
		s.applyTimeout(&tasks[i])
		if filters.Status != "" && tasks[i].Status != filters.Status {
			continue
		}
		out = append(out, tasks[i])
		if filters.Limit > 0 && len(out) == filters.Limit {
			break
		}
	}
	return out, nil
}

// Delete hard-deletes a task and reports it to observers as failed.
func (s *Store) Delete(ctx context.Context, id string) error {
	db := s.db.WithContext(ctx)
	t, err := s.get(db, id)
	if err != nil {
		return err
	}
	result := db.Where("id = ?", id).Delete(&models.Task{})
	if result.Error != nil {
		return fmt.Errorf("task: delete %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("task: %w: %s", apperr.ErrNotFound, id)
	}
	s.emit(ctx, events.TaskFailed, t, t.LastModifiedBy, "deleted")
	return nil
}

// EffectiveStatus returns the status a reader should see. A task still
// PENDING or PROCESSING with no result images and no progress after timeout
// is reported as FAILED; the stored record is not changed.
func EffectiveStatus(t *models.Task, now time.Time, timeout time.Duration) string {
	if t.Status != models.StatusPending && t.Status != models.StatusProcessing {
		return t.Status
	}
	if len(t.ResultImages) > 0 || t.Progress > 0 {
		return t.Status
	}
	if now.Sub(t.CreatedAt) > timeout {
		return models.StatusFailed
	}
	return t.Status
}

func (s *Store) applyTimeout(t *models.Task) {
	eff := EffectiveStatus(t, s.now(), s.timeout)
	if eff == t.Status {
		return
	}
	t.Status = eff
	if t.ErrorMessage == "" {
		t.ErrorMessage = fmt.Sprintf("no result after %s", s.timeout)
	}
}

func (s *Store) emit(ctx context.Context, kind events.Kind, t *models.Task, modifier, reason string) {
	s.events.Emit(ctx, events.Event{
		Kind:      kind,
		TaskID:    t.ID,
		Status:    t.Status,
		Progress:  t.Progress,
		Version:   t.Version,
		Prompt:    t.Prompt,
		Images:    []string(t.ResultImages),
		Modifier:  modifier,
		Reason:    reason,
		Timestamp: s.now().UTC(),
	})
}

// emitChange emits the single event that best describes a write.
func (s *Store) emitChange(ctx context.Context, before, after *models.Task, modifier string) {
	switch {
	case after.Status != before.Status && after.Status == models.StatusCompleted:
		s.emit(ctx, events.TaskCompleted, after, modifier, "")
	case after.Status != before.Status && after.Status == models.StatusFailed:
		s.emit(ctx, events.TaskFailed, after, modifier, after.ErrorMessage)
	case after.Progress != before.Progress ||
		(after.Status != before.Status && after.Status == models.StatusProcessing):
		s.emit(ctx, events.TaskProgress, after, modifier, "")
	default:
		s.emit(ctx, events.TaskUpdated, after, modifier, "")
	}
}
