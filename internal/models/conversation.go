package models

import "time"

// Conversation statuses.
const (
	ConversationActive    = "active"
	ConversationCompleted = "completed"
	ConversationDiscarded = "discarded"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is a prompt-refinement dialogue that ends in a task.
type Conversation struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	ExternalRecordID string     `gorm:"size:64;index" json:"externalRecordId,omitempty"`
	Source           string     `gorm:"size:16;not null;index" json:"source"` // "web" or "feishu"
	Status           string     `gorm:"size:16;default:active;index" json:"status"`
	FinalPrompt      string     `gorm:"type:text" json:"finalPrompt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`

	Messages []ConversationMessage `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

// ConversationMessage is a single turn. Sequence is 1-based and dense per conversation.
type ConversationMessage struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	ConversationID string    `gorm:"size:36;not null;uniqueIndex:idx_conversation_seq" json:"-"`
	Sequence       int       `gorm:"not null;uniqueIndex:idx_conversation_seq" json:"sequence"`
	Role           string    `gorm:"size:16;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `json:"timestamp"`
}

// ValidRole reports whether r is a known message role.
func ValidRole(r string) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
