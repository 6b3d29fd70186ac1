package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/darkroom/internal/apperr"
	"github.com/zulandar/darkroom/internal/models"
)

// ErrVersionConflict matches every *VersionConflictError via errors.Is.
var ErrVersionConflict = errors.New("version conflict")

// ErrMissingField is returned when a resolution strategy needs data the caller
// did not supply. It is an apperr.ErrInvalidState.
var ErrMissingField = fmt.Errorf("%w: missing field", apperr.ErrInvalidState)

// ConflictDescriptor describes a rejected version-gated write.
type ConflictDescriptor struct {
	TaskID           string         `json:"taskId"`
	CurrentVersion   int            `json:"currentVersion"`
	AttemptedVersion int            `json:"attemptedVersion"`
	CurrentData      *models.Task   `json:"currentData"`
	AttemptedData    map[string]any `json:"attemptedData"`
	LastModifiedBy   string         `json:"lastModifiedBy"`
	LastModifiedAt   time.Time      `json:"lastModifiedAt"`
}

// VersionConflictError is returned when the caller's expected version does
// not match the stored one, or the task is already flagged as conflicted.
type VersionConflictError struct {
	Conflict ConflictDescriptor
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("task: version conflict on %s: attempted version %d, current version %d",
		e.Conflict.TaskID, e.Conflict.AttemptedVersion, e.Conflict.CurrentVersion)
}

// Is reports whether target is ErrVersionConflict.
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

func newConflict(current *models.Task, attemptedVersion int, attempted map[string]any) *VersionConflictError {
	if attempted == nil {
		attempted = map[string]any{}
	}
	return &VersionConflictError{Conflict: ConflictDescriptor{
		TaskID:           current.ID,
		CurrentVersion:   current.Version,
		AttemptedVersion: attemptedVersion,
		CurrentData:      current,
		AttemptedData:    attempted,
		LastModifiedBy:   current.LastModifiedBy,
		LastModifiedAt:   current.LastModifiedAt,
	}}
}
