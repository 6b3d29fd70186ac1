package models

import "time"

// Task statuses.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Sync statuses for the external document backend.
const (
	SyncPending = "PENDING"
	SyncSynced  = "SYNCED"
	SyncFailed  = "FAILED"
)

// Modifiers identify which actor last wrote a task.
const (
	ModifierWeb    = "web"
	ModifierFeishu = "feishu"
	ModifierAPI    = "api"
)

// Task is one image generation request and its outcome.
type Task struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	UserID           string     `gorm:"size:64;index" json:"userId,omitempty"`
	ConversationID   *string    `gorm:"size:36;index" json:"conversationId,omitempty"`
	Prompt           string     `gorm:"type:text;not null" json:"prompt"`
	OriginalPrompt   string     `gorm:"type:text" json:"originalPrompt,omitempty"`
	OptimizedPrompt  string     `gorm:"type:text" json:"optimizedPrompt,omitempty"`
	InputImages      StringList `gorm:"type:text" json:"inputImages"`
	SceneImages      StringList `gorm:"type:text" json:"sceneImages"`
	ResultImages     StringList `gorm:"type:text" json:"resultImages"`
	AIModel          string     `gorm:"size:64" json:"aiModel"`
	AspectRatio      string     `gorm:"size:16" json:"aspectRatio"`
	ImageCount       int        `gorm:"default:1" json:"imageCount"`
	Quality          string     `gorm:"size:16" json:"quality"`
	Status           string     `gorm:"size:16;default:PENDING;index" json:"status"`
	Progress         int        `gorm:"default:0" json:"progress"`
	ErrorMessage     string     `gorm:"type:text" json:"errorMessage,omitempty"`
	SyncStatus       string     `gorm:"size:16;default:PENDING" json:"syncStatus"`
	ExternalRecordID string     `gorm:"size:64;index" json:"externalRecordId,omitempty"`
	Version          int        `gorm:"not null;default:1" json:"version"`
	ConflictDetected bool       `gorm:"default:false;index" json:"conflictDetected"`
	LastModifiedBy   string     `gorm:"size:16" json:"lastModifiedBy"`
	LastModifiedAt   time.Time  `json:"lastModifiedAt"`
	BatchID          *string    `gorm:"size:36;index" json:"batchId,omitempty"`
	BatchIndex       *int       `json:"batchIndex,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// IsTerminal reports whether the task has reached COMPLETED or FAILED.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ValidSyncStatus reports whether s is a known sync status.
func ValidSyncStatus(s string) bool {
	switch s {
	case SyncPending, SyncSynced, SyncFailed:
		return true
	}
	return false
}

// ValidModifier reports whether m is a known modifying actor.
func ValidModifier(m string) bool {
	switch m {
	case ModifierWeb, ModifierFeishu, ModifierAPI:
		return true
	}
	return false
}
