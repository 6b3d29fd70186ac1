package task

import (
	"context"
	"fmt"

	"github.com/zulandar/darkroom/internal/apperr"
	"github.com/zulandar/darkroom/internal/models"
	"gorm.io/gorm"
)

// Strategy names a conflict resolution policy.
type Strategy string

const (
	// UseLocal keeps the local side: the caller resubmits the values it
	// wants (LocalFields, optional) and the record is queued for resync.
	UseLocal Strategy = "use_local"
	// UseRemote treats the stored record as canonical and only clears the flag.
	UseRemote Strategy = "use_remote"
	// Merge applies exactly the caller-supplied MergedFields and queues a resync.
	Merge Strategy = "merge"
)

// ValidStrategy reports whether s is a known strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case UseLocal, UseRemote, Merge:
		return true
	}
	return false
}

// ResolveRequest holds parameters for resolving a flagged conflict.
type ResolveRequest struct {
	Strategy Strategy
	Modifier string
	// ExpectedVersion is the version the operator saw in the conflict
	// descriptor. Nil means the currently stored version.
	ExpectedVersion *int
	LocalFields     map[string]any
	MergedFields    map[string]any
}

// Resolve clears conflictDetected on a flagged task using the chosen strategy.
// The resolution write is itself version-gated: if another write advanced the
// version since the operator looked, a fresh *VersionConflictError is
// returned and nothing changes. On success the version advances by one.
func (s *Store) Resolve(ctx context.Context, id string, req ResolveRequest) (*models.Task, error) {
	if !ValidStrategy(req.Strategy) {
		return nil, fmt.Errorf("task: %w: unknown strategy %q", apperr.ErrInvalidInput, req.Strategy)
	}
	if !models.ValidModifier(req.Modifier) {
		return nil, fmt.Errorf("task: %w: unknown modifier %q", apperr.ErrInvalidInput, req.Modifier)
	}
	if req.Strategy == Merge && len(req.MergedFields) == 0 {
		return nil, fmt.Errorf("task: %w: mergedFields is required for merge", ErrMissingField)
	}

	var (
		cols      map[string]any
		attempted map[string]any
		err       error
	)
	switch req.Strategy {
	case Merge:
		attempted = req.MergedFields
		cols, err = normalizeFields(req.MergedFields)
	case UseLocal:
		attempted = req.LocalFields
		cols, err = normalizeFields(req.LocalFields)
	default:
		cols = map[string]any{}
	}
	if err != nil {
		return nil, err
	}
	if req.Strategy != UseRemote {
		cols["sync_status"] = models.SyncPending
	}
	cols["conflict_detected"] = false

	var before, after *models.Task
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		before, err = s.get(tx, id)
		if err != nil {
			return err
		}
		if !before.ConflictDetected {
			return fmt.Errorf("task: %w: no conflict detected on %s", apperr.ErrInvalidState, id)
		}

		expected := before.Version
		if req.ExpectedVersion != nil {
			expected = *req.ExpectedVersion
		}
		if expected != before.Version {
			return newConflict(before, expected, attempted)
		}

		result := tx.Model(&models.Task{}).
			Where("id = ? AND version = ? AND conflict_detected = ?", id, expected, true).
			Updates(s.stamp(cols, req.Modifier))
		if result.Error != nil {
			return fmt.Errorf("task: resolve %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			current, err := s.get(tx, id)
			if err != nil {
				return err
			}
			return newConflict(current, expected, attempted)
		}
		after, err = s.get(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emitChange(ctx, before, after, req.Modifier)
	s.applyTimeout(after)
	return after, nil
}
