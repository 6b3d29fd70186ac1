// Package events carries task lifecycle notifications from the stores to
// observers (SSE streams, chat notifiers, the document sync dispatcher).
package events

import (
	"context"
	"time"
)

// Kind names a task lifecycle event.
type Kind string

const (
	TaskCreated   Kind = "task.created"
	TaskProgress  Kind = "task.progress"
	TaskCompleted Kind = "task.completed"
	TaskFailed    Kind = "task.failed"
	TaskUpdated   Kind = "task.updated"
	TaskConflict  Kind = "task.conflict"
)

// Event is a single lifecycle notification about a task.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	TaskID    string    `json:"taskId"`
	Status    string    `json:"status,omitempty"`
	Progress  int       `json:"progress"`
	Version   int       `json:"version"`
	Prompt    string    `json:"prompt,omitempty"`
	Images    []string  `json:"images,omitempty"`
	Modifier  string    `json:"modifier,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives events. Emit is fire-and-forget: implementations must not
// block the caller on slow observers and never report delivery failures.
type Sink interface {
	Emit(ctx context.Context, evt Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(context.Context, Event) {}
