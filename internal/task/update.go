package task

import (
	"context"
	"fmt"

	"github.com/zulandar/darkroom/internal/apperr"
	"github.com/zulandar/darkroom/internal/callback"
	"github.com/zulandar/darkroom/internal/events"
	"github.com/zulandar/darkroom/internal/models"
	"gorm.io/gorm"
)

// UpdateVersioned applies fields only if expectedVersion equals the stored
// version and the task is not already conflicted. On success the version is
// incremented by exactly one. On mismatch no field is written; the task is
// flagged conflictDetected=true and a *VersionConflictError is returned.
// Exactly one write happens either way.
func (s *Store) UpdateVersioned(ctx context.Context, id string, fields map[string]any, expectedVersion int, modifier string) (*models.Task, error) {
	if !models.ValidModifier(modifier) {
		return nil, fmt.Errorf("task: %w: unknown modifier %q", apperr.ErrInvalidInput, modifier)
	}
	cols, err := normalizeFields(fields)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("task: %w: no fields to update", apperr.ErrInvalidInput)
	}

	var (
		before   *models.Task
		after    *models.Task
		conflict *VersionConflictError
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		before, err = s.get(tx, id)
		if err != nil {
			return err
		}

		result := tx.Model(&models.Task{}).
			Where("id = ? AND version = ? AND conflict_detected = ?", id, expectedVersion, false).
			Updates(s.stamp(cols, modifier))
		if result.Error != nil {
			return fmt.Errorf("task: update %s: %w", id, result.Error)
		}
		if result.RowsAffected == 1 {
			after, err = s.get(tx, id)
			return err
		}

		// Stale or already conflicted: only the flag is written. The
		// transaction commits so the flag persists.
		if err := tx.Model(&models.Task{}).Where("id = ?", id).
			UpdateColumn("conflict_detected", true).Error; err != nil {
			return fmt.Errorf("task: flag conflict on %s: %w", id, err)
		}
		current, err := s.get(tx, id)
		if err != nil {
			return err
		}
		conflict = newConflict(current, expectedVersion, fields)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if conflict != nil {
		s.emit(ctx, events.TaskConflict, conflict.Conflict.CurrentData, modifier, "stale version")
		return nil, conflict
	}
	s.emitChange(ctx, before, after, modifier)
	s.applyTimeout(after)
	return after, nil
}

// Update is the trusted-caller write path. It applies fields without a
// version comparison; the version still advances by one.
func (s *Store) Update(ctx context.Context, id string, fields map[string]any, modifier string) (*models.Task, error) {
	if !models.ValidModifier(modifier) {
		return nil, fmt.Errorf("task: %w: unknown modifier %q", apperr.ErrInvalidInput, modifier)
	}
	cols, err := normalizeFields(fields)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("task: %w: no fields to update", apperr.ErrInvalidInput)
	}
	return s.applyTrusted(ctx, id, modifier, func(*models.Task) map[string]any { return cols })
}

// ApplyReport records a workflow callback on the trusted path. Reports for a
// task that is already COMPLETED or FAILED are ignored.
func (s *Store) ApplyReport(ctx context.Context, r *callback.Report) (*models.Task, error) {
	if r.Kind == callback.KindProgress && (r.Progress < 0 || r.Progress > 100) {
		return nil, fmt.Errorf("task: %w: progress %d out of range", apperr.ErrInvalidInput, r.Progress)
	}
	return s.applyTrusted(ctx, r.TaskID, models.ModifierAPI, func(current *models.Task) map[string]any {
		if current.IsTerminal() {
			return nil
		}
		switch r.Kind {
		case callback.KindCompleted:
			return map[string]any{
				"status":        models.StatusCompleted,
				"progress":      100,
				"result_images": models.StringList(r.Images),
				"error_message": "",
				"completed_at":  s.now(),
			}
		case callback.KindFailed:
			msg := r.Error
			if msg == "" {
				msg = "workflow reported failure"
			}
			return map[string]any{
				"status":        models.StatusFailed,
				"error_message": msg,
				"completed_at":  s.now(),
			}
		default:
			return map[string]any{
				"status":   models.StatusProcessing,
				"progress": r.Progress,
			}
		}
	})
}

// applyTrusted runs build against the current record inside a transaction
// and writes the returned columns unconditionally. A nil map skips the write.
func (s *Store) applyTrusted(ctx context.Context, id, modifier string, build func(*models.Task) map[string]any) (*models.Task, error) {
	var before, after *models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		before, err = s.get(tx, id)
		if err != nil {
			return err
		}
		cols := build(before)
		if cols == nil {
			return nil
		}
		if err := tx.Model(&models.Task{}).Where("id = ?", id).
			Updates(s.stamp(cols, modifier)).Error; err != nil {
			return fmt.Errorf("task: update %s: %w", id, err)
		}
		after, err = s.get(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if after == nil {
		s.applyTimeout(before)
		return before, nil
	}
	s.emitChange(ctx, before, after, modifier)
	s.applyTimeout(after)
	return after, nil
}

// SetSyncState records the outcome of a document-backend sync. It is
// bookkeeping, not a content write: the version is untouched and no event is
// emitted.
func (s *Store) SetSyncState(ctx context.Context, id, syncStatus, externalRecordID string) error {
	if !models.ValidSyncStatus(syncStatus) {
		return fmt.Errorf("task: %w: unknown sync status %q", apperr.ErrInvalidInput, syncStatus)
	}
	cols := map[string]any{"sync_status": syncStatus}
	if externalRecordID != "" {
		cols["external_record_id"] = externalRecordID
	}
	result := s.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).UpdateColumns(cols)
	if result.Error != nil {
		return fmt.Errorf("task: set sync state %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero rows when the values did not change.
		if _, err := s.get(s.db.WithContext(ctx), id); err != nil {
			return err
		}
	}
	return nil
}

// stamp copies cols and adds the modifier stamps and version increment.
func (s *Store) stamp(cols map[string]any, modifier string) map[string]any {
	out := make(map[string]any, len(cols)+3)
	for k, v := range cols {
		out[k] = v
	}
	out["last_modified_by"] = modifier
	out["last_modified_at"] = s.now()
	out["version"] = gorm.Expr("version + ?", 1)
	return out
}
