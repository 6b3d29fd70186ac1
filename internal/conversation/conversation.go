// Package conversation stores prompt-refinement dialogues. Messages are
// append-only and sequenced per conversation; a conversation is finalized at
// most once, when the user applies a suggested prompt.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/darkroom/internal/apperr"
	"github.com/zulandar/darkroom/internal/models"
	"gorm.io/gorm"
)

// DefaultMaxTurns caps the number of messages in one conversation.
const DefaultMaxTurns = 100

// Store handles conversation persistence.
type Store struct {
	db       *gorm.DB
	maxTurns int
	now      func() time.Time
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB       *gorm.DB
	MaxTurns int              // defaults to DefaultMaxTurns
	Now      func() time.Time // defaults to time.Now
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("conversation: store: db is required")
	}
	s := &Store{db: opts.DB, maxTurns: opts.MaxTurns, now: opts.Now}
	if s.maxTurns <= 0 {
		s.maxTurns = DefaultMaxTurns
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// StartOpts holds parameters for starting a conversation.
type StartOpts struct {
	Source           string // web or feishu; defaults to web
	ExternalRecordID string
	// Prompt, if set, is recorded as the first user message.
	Prompt string
}

// ListFilters holds optional filters for listing conversations.
type ListFilters struct {
	Source string
	Status string
	Limit  int
}

// Start creates an active conversation.
func (s *Store) Start(ctx context.Context, opts StartOpts) (*models.Conversation, error) {
	if opts.Source == "" {
		opts.Source = models.ModifierWeb
	}
	if opts.Source != models.ModifierWeb && opts.Source != models.ModifierFeishu {
		return nil, fmt.Errorf("conversation: %w: unknown source %q", apperr.ErrInvalidInput, opts.Source)
	}

	now := s.now()
	conv := models.Conversation{
		ID:               uuid.NewString(),
		ExternalRecordID: opts.ExternalRecordID,
		Source:           opts.Source,
		Status:           models.ConversationActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if opts.Prompt != "" {
		conv.Messages = []models.ConversationMessage{{
			Sequence:  1,
			Role:      models.RoleUser,
			Content:   opts.Prompt,
			CreatedAt: now,
		}}
	}

	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("conversation: start: %w", err)
	}
	return &conv, nil
}

// Get retrieves a conversation with its messages in sequence order.
func (s *Store) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return s.get(s.db.WithContext(ctx), id, true)
}

func (s *Store) get(db *gorm.DB, id string, withMessages bool) (*models.Conversation, error) {
	q := db
	if withMessages {
		q = q.Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		})
	}
	var conv models.Conversation
	if err := q.Where("id = ?", id).First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("conversation: %w: %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("conversation: get %s: %w", id, err)
	}
	return &conv, nil
}

// List returns conversations matching filters, newest first, without messages.
func (s *Store) List(ctx context.Context, filters ListFilters) ([]models.Conversation, error) {
	q := s.db.WithContext(ctx).Model(&models.Conversation{})
	if filters.Source != "" {
		q = q.Where("source = ?", filters.Source)
	}
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.Limit > 0 {
		q = q.Limit(filters.Limit)
	}

	var convs []models.Conversation
	if err := q.Order("created_at DESC").Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("conversation: list: %w", err)
	}
	return convs, nil
}

// Append adds a message to an active conversation and returns it.
func (s *Store) Append(ctx context.Context, id, role, content string) (*models.ConversationMessage, error) {
	if !models.ValidRole(role) {
		return nil, fmt.Errorf("conversation: %w: unknown role %q", apperr.ErrInvalidInput, role)
	}
	if content == "" {
		return nil, fmt.Errorf("conversation: %w: content is required", apperr.ErrInvalidInput)
	}

	var msg models.ConversationMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := s.get(tx, id, false)
		if err != nil {
			return err
		}
		if conv.Status != models.ConversationActive {
			return fmt.Errorf("conversation: %w: %s is %s", apperr.ErrInvalidState, id, conv.Status)
		}

		seq, err := s.nextSequence(tx, id)
		if err != nil {
			return err
		}
		if seq > s.maxTurns {
			return fmt.Errorf("conversation: %w: max turns exceeded (%d) for %s", apperr.ErrInvalidState, s.maxTurns, id)
		}

		msg = models.ConversationMessage{
			ConversationID: id,
			Sequence:       seq,
			Role:           role,
			Content:        content,
			CreatedAt:      s.now(),
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("conversation: append to %s: %w", id, err)
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", id).
			Update("updated_at", s.now()).Error
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Finalize sets the final prompt and completes the conversation. It succeeds
// at most once per conversation.
func (s *Store) Finalize(ctx context.Context, id, finalPrompt string) (*models.Conversation, error) {
	return s.FinalizeWith(ctx, id, finalPrompt, nil)
}

// FinalizeWith is Finalize with a hook that runs in the same transaction
// after the status change. If then returns an error the conversation stays
// active and the error is returned.
func (s *Store) FinalizeWith(ctx context.Context, id, finalPrompt string, then func(tx *gorm.DB, conv *models.Conversation) error) (*models.Conversation, error) {
	if finalPrompt == "" {
		return nil, fmt.Errorf("conversation: %w: final prompt is required", apperr.ErrInvalidInput)
	}
	now := s.now()
	var conv *models.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		conv, err = s.transition(tx, id, models.ConversationCompleted, map[string]any{
			"status":       models.ConversationCompleted,
			"final_prompt": finalPrompt,
			"completed_at": now,
			"updated_at":   now,
		})
		if err != nil {
			return err
		}
		if then == nil {
			return nil
		}
		return then(tx, conv)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Discard abandons an active conversation.
func (s *Store) Discard(ctx context.Context, id string) (*models.Conversation, error) {
	now := s.now()
	return s.transition(s.db.WithContext(ctx), id, models.ConversationDiscarded, map[string]any{
		"status":       models.ConversationDiscarded,
		"completed_at": now,
		"updated_at":   now,
	})
}

// transition moves an active conversation to a closed status with a
// conditional update, so two concurrent finalizations cannot both succeed.
func (s *Store) transition(db *gorm.DB, id, to string, cols map[string]any) (*models.Conversation, error) {
	result := db.Model(&models.Conversation{}).
		Where("id = ? AND status = ?", id, models.ConversationActive).
		UpdateColumns(cols)
	if result.Error != nil {
		return nil, fmt.Errorf("conversation: mark %s %s: %w", id, to, result.Error)
	}
	if result.RowsAffected == 0 {
		conv, err := s.get(db, id, false)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("conversation: %w: %s is already %s", apperr.ErrInvalidState, id, conv.Status)
	}
	return s.get(db, id, true)
}

// FirstUserMessage returns the content of the earliest user message, or "".
func FirstUserMessage(conv *models.Conversation) string {
	for _, m := range conv.Messages {
		if m.Role == models.RoleUser {
			return m.Content
		}
	}
	return ""
}

// nextSequence returns the next sequence number for a conversation.
func (s *Store) nextSequence(tx *gorm.DB, id string) (int, error) {
	var maxSeq *int
	if err := tx.Model(&models.ConversationMessage{}).
		Where("conversation_id = ?", id).
		Select("MAX(sequence)").
		Scan(&maxSeq).Error; err != nil {
		return 0, fmt.Errorf("conversation: next sequence for %s: %w", id, err)
	}
	if maxSeq == nil {
		return 1, nil
	}
	return *maxSeq + 1, nil
}
