package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/darkroom/internal/conversation"
	"github.com/zulandar/darkroom/internal/models"
	"github.com/zulandar/darkroom/internal/task"
	"gorm.io/gorm"
)

type startConversationRequest struct {
	Source           string `json:"source" binding:"omitempty,oneof=web feishu"`
	ExternalRecordID string `json:"externalRecordId" binding:"max=64"`
	Prompt           string `json:"prompt"`
}

type listConversationsQuery struct {
	Source string `form:"source" binding:"omitempty,oneof=web feishu"`
	Status string `form:"status" binding:"omitempty,oneof=active completed discarded"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

type appendMessageRequest struct {
	Role    string `json:"role" binding:"required,oneof=user assistant system"`
	Content string `json:"content" binding:"required"`
}

// applyRequest finalizes a conversation and creates the task that uses its
// final prompt.
type applyRequest struct {
	FinalPrompt string   `json:"finalPrompt" binding:"required"`
	UserID      string   `json:"userId" binding:"max=64"`
	InputImages []string `json:"inputImages" binding:"max=10,dive,required"`
	SceneImages []string `json:"sceneImages" binding:"max=10,dive,required"`
	AIModel     string   `json:"aiModel" binding:"max=64"`
	AspectRatio string   `json:"aspectRatio" binding:"max=16"`
	ImageCount  int      `json:"imageCount" binding:"omitempty,min=1,max=8"`
	Quality     string   `json:"quality" binding:"max=16"`
}

func (h *handlers) startConversation(c *gin.Context) {
	var req startConversationRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	conv, err := h.convs.Start(c.Request.Context(), conversation.StartOpts{
		Source:           req.Source,
		ExternalRecordID: req.ExternalRecordID,
		Prompt:           req.Prompt,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *handlers) listConversations(c *gin.Context) {
	var q listConversationsQuery
	if err := bindQuery(c, &q); err != nil {
		h.fail(c, err)
		return
	}
	convs, err := h.convs.List(c.Request.Context(), conversation.ListFilters{
		Source: q.Source,
		Status: q.Status,
		Limit:  q.Limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (h *handlers) getConversation(c *gin.Context) {
	conv, err := h.convs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *handlers) appendMessage(c *gin.Context) {
	var req appendMessageRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	msg, err := h.convs.Append(c.Request.Context(), c.Param("id"), req.Role, req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *handlers) applyConversation(c *gin.Context) {
	var req applyRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()

	var t *models.Task
	conv, err := h.convs.FinalizeWith(ctx, c.Param("id"), req.FinalPrompt, func(tx *gorm.DB, conv *models.Conversation) error {
		var err error
		t, err = h.tasks.CreateTx(tx, task.CreateOpts{
			UserID:          req.UserID,
			ConversationID:  conv.ID,
			Prompt:          req.FinalPrompt,
			OriginalPrompt:  conversation.FirstUserMessage(conv),
			OptimizedPrompt: req.FinalPrompt,
			InputImages:     req.InputImages,
			SceneImages:     req.SceneImages,
			AIModel:         req.AIModel,
			AspectRatio:     req.AspectRatio,
			ImageCount:      req.ImageCount,
			Quality:         req.Quality,
			Modifier:        conv.Source,
		})
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.tasks.Announce(ctx, t)
	c.JSON(http.StatusCreated, gin.H{"conversation": conv, "task": t})
}

func (h *handlers) discardConversation(c *gin.Context) {
	conv, err := h.convs.Discard(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}
