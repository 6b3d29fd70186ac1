package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/darkroom/internal/callback"
	"github.com/zulandar/darkroom/internal/models"
	"github.com/zulandar/darkroom/internal/task"
)

type createTaskRequest struct {
	UserID          string   `json:"userId" binding:"max=64"`
	ConversationID  string   `json:"conversationId" binding:"omitempty,uuid"`
	Prompt          string   `json:"prompt" binding:"required"`
	OriginalPrompt  string   `json:"originalPrompt"`
	OptimizedPrompt string   `json:"optimizedPrompt"`
	InputImages     []string `json:"inputImages" binding:"max=10,dive,required"`
	SceneImages     []string `json:"sceneImages" binding:"max=10,dive,required"`
	AIModel         string   `json:"aiModel" binding:"max=64"`
	AspectRatio     string   `json:"aspectRatio" binding:"max=16"`
	ImageCount      int      `json:"imageCount" binding:"omitempty,min=1,max=8"`
	Quality         string   `json:"quality" binding:"max=16"`
	Modifier        string   `json:"modifier" binding:"omitempty,oneof=web feishu api"`
}

func (r createTaskRequest) opts() task.CreateOpts {
	return task.CreateOpts{
		UserID:          r.UserID,
		ConversationID:  r.ConversationID,
		Prompt:          r.Prompt,
		OriginalPrompt:  r.OriginalPrompt,
		OptimizedPrompt: r.OptimizedPrompt,
		InputImages:     r.InputImages,
		SceneImages:     r.SceneImages,
		AIModel:         r.AIModel,
		AspectRatio:     r.AspectRatio,
		ImageCount:      r.ImageCount,
		Quality:         r.Quality,
		Modifier:        r.Modifier,
	}
}

// The batch size limit belongs to the store, so it is not a binding tag.
type createBatchRequest struct {
	Tasks []createTaskRequest `json:"tasks" binding:"required,min=1,dive"`
}

type listTasksQuery struct {
	UserID         string `form:"userId"`
	BatchID        string `form:"batchId"`
	ConversationID string `form:"conversationId"`
	Status         string `form:"status" binding:"omitempty,oneof=PENDING PROCESSING COMPLETED FAILED"`
	Limit          int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

type updateTaskRequest struct {
	Fields   map[string]any `json:"fields" binding:"required"`
	Version  int            `json:"version" binding:"required,min=1"`
	Modifier string         `json:"modifier" binding:"required,oneof=web feishu api"`
}

type resolveRequest struct {
	Strategy     string         `json:"strategy" binding:"required,oneof=use_local use_remote merge"`
	Modifier     string         `json:"modifier" binding:"required,oneof=web feishu api"`
	Version      *int           `json:"version" binding:"omitempty,min=1"`
	LocalFields  map[string]any `json:"localFields"`
	MergedFields map[string]any `json:"mergedFields"`
}

func (h *handlers) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	t, err := h.tasks.Create(c.Request.Context(), req.opts())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *handlers) createBatch(c *gin.Context) {
	var req createBatchRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	opts := make([]task.CreateOpts, len(req.Tasks))
	for i, r := range req.Tasks {
		opts[i] = r.opts()
	}
	tasks, err := h.tasks.CreateBatch(c.Request.Context(), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	batchID := ""
	if tasks[0].BatchID != nil {
		batchID = *tasks[0].BatchID
	}
	c.JSON(http.StatusCreated, gin.H{"batchId": batchID, "tasks": tasks})
}

func (h *handlers) listTasks(c *gin.Context) {
	var q listTasksQuery
	if err := bindQuery(c, &q); err != nil {
		h.fail(c, err)
		return
	}
	tasks, err := h.tasks.List(c.Request.Context(), task.ListFilters{
		UserID:         q.UserID,
		BatchID:        q.BatchID,
		ConversationID: q.ConversationID,
		Status:         q.Status,
		Limit:          q.Limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *handlers) getTask(c *gin.Context) {
	t, err := h.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *handlers) updateTask(c *gin.Context) {
	var req updateTaskRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	t, err := h.tasks.UpdateVersioned(c.Request.Context(), c.Param("id"), req.Fields, req.Version, req.Modifier)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *handlers) deleteTask(c *gin.Context) {
	if err := h.tasks.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) resolveConflict(c *gin.Context) {
	var req resolveRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	t, err := h.tasks.Resolve(c.Request.Context(), c.Param("id"), task.ResolveRequest{
		Strategy:        task.Strategy(req.Strategy),
		Modifier:        req.Modifier,
		ExpectedVersion: req.Version,
		LocalFields:     req.LocalFields,
		MergedFields:    req.MergedFields,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// workflowCallback accepts progress and result reports from the generation
// workflow. These writes skip the version check.
func (h *handlers) workflowCallback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, err)
		return
	}
	report, err := callback.Parse(body)
	if err != nil {
		h.fail(c, err)
		return
	}
	t, err := h.tasks.ApplyReport(c.Request.Context(), report)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
