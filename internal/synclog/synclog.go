// Package synclog records attempts to push records to the document backend
// and tracks which of them are due for a retry.
package synclog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/darkroom/internal/apperr"
	"github.com/zulandar/darkroom/internal/models"
	"gorm.io/gorm"
)

// DefaultMaxRetries is used when StartOpts.MaxRetries is zero.
const DefaultMaxRetries = 3

// StartOpts holds parameters for recording a new sync attempt.
type StartOpts struct {
	Source     string // web, feishu, api
	Action     string // create, update, delete
	EntityType string // task, conversation
	EntityID   string
	MaxRetries int
}

// ListFilters holds optional filters for listing sync logs.
type ListFilters struct {
	EntityType string
	EntityID   string
	Status     string
	Limit      int
}

// Start creates a PENDING sync log.
func Start(ctx context.Context, db *gorm.DB, opts StartOpts) (*models.SyncLog, error) {
	if opts.EntityType == "" || opts.EntityID == "" {
		return nil, fmt.Errorf("synclog: %w: entity type and id are required", apperr.ErrInvalidInput)
	}
	if opts.Action == "" {
		return nil, fmt.Errorf("synclog: %w: action is required", apperr.ErrInvalidInput)
	}
	if opts.Source == "" {
		opts.Source = models.ModifierAPI
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	entry := models.SyncLog{
		Source:     opts.Source,
		Action:     opts.Action,
		EntityType: opts.EntityType,
		EntityID:   opts.EntityID,
		Status:     models.SyncLogPending,
		MaxRetries: opts.MaxRetries,
	}
	if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("synclog: start: %w", err)
	}
	return &entry, nil
}

// Get retrieves a sync log by ID.
func Get(ctx context.Context, db *gorm.DB, id uint) (*models.SyncLog, error) {
	var entry models.SyncLog
	if err := db.WithContext(ctx).First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("synclog: %w: %d", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("synclog: get %d: %w", id, err)
	}
	return &entry, nil
}

// List returns sync logs matching filters, newest first.
func List(ctx context.Context, db *gorm.DB, filters ListFilters) ([]models.SyncLog, error) {
	q := db.WithContext(ctx).Model(&models.SyncLog{})
	if filters.EntityType != "" {
		q = q.Where("entity_type = ?", filters.EntityType)
	}
	if filters.EntityID != "" {
		q = q.Where("entity_id = ?", filters.EntityID)
	}
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.Limit > 0 {
		q = q.Limit(filters.Limit)
	}

	var entries []models.SyncLog
	if err := q.Order("id DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("synclog: list: %w", err)
	}
	return entries, nil
}

// MarkSuccess completes a sync log.
func MarkSuccess(ctx context.Context, db *gorm.DB, id uint) error {
	now := time.Now()
	return update(ctx, db, id, map[string]interface{}{
		"status":        models.SyncLogSuccess,
		"error_message": "",
		"completed_at":  &now,
	})
}

// MarkFailed records a failed attempt. The log becomes RETRYING while
// retries remain, FAILED once they are exhausted. It returns the new status.
func MarkFailed(ctx context.Context, db *gorm.DB, id uint, cause error) (string, error) {
	entry, err := Get(ctx, db, id)
	if err != nil {
		return "", err
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	cols := map[string]interface{}{"error_message": msg}
	status := models.SyncLogRetrying
	if entry.RetryCount >= entry.MaxRetries {
		status = models.SyncLogFailed
		now := time.Now()
		cols["completed_at"] = &now
	}
	cols["status"] = status

	if err := update(ctx, db, id, cols); err != nil {
		return "", err
	}
	return status, nil
}

// Abandon marks a log FAILED without consuming further retries.
func Abandon(ctx context.Context, db *gorm.DB, id uint, reason string) error {
	now := time.Now()
	return update(ctx, db, id, map[string]interface{}{
		"status":        models.SyncLogFailed,
		"error_message": reason,
		"completed_at":  &now,
	})
}

// ClaimRetry moves a RETRYING log back to PENDING and counts the retry.
// It returns false if another worker claimed it first.
func ClaimRetry(ctx context.Context, db *gorm.DB, id uint) (bool, error) {
	result := db.WithContext(ctx).Model(&models.SyncLog{}).
		Where("id = ? AND status = ?", id, models.SyncLogRetrying).
		Updates(map[string]interface{}{
			"status":      models.SyncLogPending,
			"retry_count": gorm.Expr("retry_count + ?", 1),
		})
	if result.Error != nil {
		return false, fmt.Errorf("synclog: claim retry %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ListRetryable returns RETRYING logs, oldest first.
func ListRetryable(ctx context.Context, db *gorm.DB, limit int) ([]models.SyncLog, error) {
	q := db.WithContext(ctx).Where("status = ?", models.SyncLogRetrying).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []models.SyncLog
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("synclog: list retryable: %w", err)
	}
	return entries, nil
}

func update(ctx context.Context, db *gorm.DB, id uint, cols map[string]interface{}) error {
	result := db.WithContext(ctx).Model(&models.SyncLog{}).Where("id = ?", id).Updates(cols)
	if result.Error != nil {
		return fmt.Errorf("synclog: update %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("synclog: %w: %d", apperr.ErrNotFound, id)
	}
	return nil
}
