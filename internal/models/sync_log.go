package models

import "time"

// SyncLog statuses.
const (
	SyncLogPending  = "PENDING"
	SyncLogSuccess  = "SUCCESS"
	SyncLogFailed   = "FAILED"
	SyncLogRetrying = "RETRYING"
)

// SyncLog records one attempt to push an entity to the external document backend.
type SyncLog struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Source       string     `gorm:"size:16;not null" json:"source"`
	Action       string     `gorm:"size:32;not null" json:"action"`
	EntityType   string     `gorm:"size:32;not null;index:idx_sync_entity" json:"entityType"`
	EntityID     string     `gorm:"size:36;not null;index:idx_sync_entity" json:"entityId"`
	Status       string     `gorm:"size:16;default:PENDING;index" json:"status"`
	RetryCount   int        `gorm:"default:0" json:"retryCount"`
	MaxRetries   int        `gorm:"default:3" json:"maxRetries"`
	ErrorMessage string     `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}
