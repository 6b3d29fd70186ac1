package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/darkroom/internal/apperr"
	"github.com/zulandar/darkroom/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Conversation{}, &models.ConversationMessage{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, maxTurns int) *Store {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	s, err := NewStore(StoreOpts{DB: testDB(t), MaxTurns: maxTurns, Now: now})
	require.NoError(t, err)
	return s
}

func TestNewStore_NilDB(t *testing.T) {
	_, err := NewStore(StoreOpts{})
	require.Error(t, err)
}

func TestStart(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	conv, err := s.Start(ctx, StartOpts{Prompt: "red handbag, studio light"})
	require.NoError(t, err)
	assert.Equal(t, models.ConversationActive, conv.Status)
	assert.Equal(t, models.ModifierWeb, conv.Source)

	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, 1, got.Messages[0].Sequence)
	assert.Equal(t, models.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "red handbag, studio light", FirstUserMessage(got))

	_, err = s.Start(ctx, StartOpts{Source: "email"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestAppend_OrderedAndAppendOnly(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	conv, err := s.Start(ctx, StartOpts{Source: models.ModifierFeishu})
	require.NoError(t, err)

	turns := []struct{ role, content string }{
		{models.RoleSystem, "You refine product photo prompts."},
		{models.RoleUser, "a watch"},
		{models.RoleAssistant, "a steel watch on dark slate, soft rim light"},
		{models.RoleUser, "warmer"},
	}
	for i, turn := range turns {
		msg, err := s.Append(ctx, conv.ID, turn.role, turn.content)
		require.NoError(t, err)
		assert.Equal(t, i+1, msg.Sequence)
	}

	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, len(turns))
	for i, m := range got.Messages {
		assert.Equal(t, i+1, m.Sequence)
		assert.Equal(t, turns[i].content, m.Content)
	}
	assert.Equal(t, "a watch", FirstUserMessage(got))
}

func TestAppend_Validation(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	conv, err := s.Start(ctx, StartOpts{})
	require.NoError(t, err)

	_, err = s.Append(ctx, conv.ID, "narrator", "x")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = s.Append(ctx, conv.ID, models.RoleUser, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = s.Append(ctx, "missing", models.RoleUser, "x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAppend_MaxTurns(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()
	conv, err := s.Start(ctx, StartOpts{Prompt: "one"})
	require.NoError(t, err)

	_, err = s.Append(ctx, conv.ID, models.RoleAssistant, "two")
	require.NoError(t, err)
	_, err = s.Append(ctx, conv.ID, models.RoleUser, "three")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestFinalize_AtMostOnce(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	conv, err := s.Start(ctx, StartOpts{Prompt: "shoe"})
	require.NoError(t, err)

	done, err := s.Finalize(ctx, conv.ID, "white leather sneaker on concrete")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationCompleted, done.Status)
	assert.Equal(t, "white leather sneaker on concrete", done.FinalPrompt)
	require.NotNil(t, done.CompletedAt)
	assert.Len(t, done.Messages, 1)

	_, err = s.Finalize(ctx, conv.ID, "another prompt")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "white leather sneaker on concrete", got.FinalPrompt)

	_, err = s.Append(ctx, conv.ID, models.RoleUser, "late")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	_, err = s.Discard(ctx, conv.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestFinalizeWith_HookFailureKeepsActive(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	conv, err := s.Start(ctx, StartOpts{Prompt: "shoe"})
	require.NoError(t, err)

	boom := errors.New("insert failed")
	_, err = s.FinalizeWith(ctx, conv.ID, "red shoe", func(tx *gorm.DB, done *models.Conversation) error {
		assert.Equal(t, models.ConversationCompleted, done.Status)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationActive, got.Status)
	assert.Empty(t, got.FinalPrompt)
	assert.Nil(t, got.CompletedAt)

	var seen string
	done, err := s.FinalizeWith(ctx, conv.ID, "red shoe", func(tx *gorm.DB, c *models.Conversation) error {
		seen = FirstUserMessage(c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConversationCompleted, done.Status)
	assert.Equal(t, "shoe", seen)
}

func TestFinalize_Validation(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	_, err := s.Finalize(ctx, "missing", "p")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	conv, err := s.Start(ctx, StartOpts{})
	require.NoError(t, err)
	_, err = s.Finalize(ctx, conv.ID, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestDiscard(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	conv, err := s.Start(ctx, StartOpts{})
	require.NoError(t, err)

	got, err := s.Discard(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationDiscarded, got.Status)
	assert.Empty(t, got.FinalPrompt)

	_, err = s.Finalize(ctx, conv.ID, "p")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestList(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	web, err := s.Start(ctx, StartOpts{})
	require.NoError(t, err)
	_, err = s.Start(ctx, StartOpts{Source: models.ModifierFeishu})
	require.NoError(t, err)
	_, err = s.Discard(ctx, web.ID)
	require.NoError(t, err)

	all, err := s.List(ctx, ListFilters{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.ModifierFeishu, all[0].Source, "newest first")

	active, err := s.List(ctx, ListFilters{Status: models.ConversationActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.ModifierFeishu, active[0].Source)

	webOnly, err := s.List(ctx, ListFilters{Source: models.ModifierWeb, Limit: 5})
	require.NoError(t, err)
	require.Len(t, webOnly, 1)
	assert.Equal(t, web.ID, webOnly[0].ID)
}
