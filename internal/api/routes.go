package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/darkroom/internal/conversation"
	"github.com/zulandar/darkroom/internal/task"
	"github.com/zulandar/darkroom/internal/uploads"
	"go.uber.org/zap"
)

type handlers struct {
	tasks   *task.Store
	convs   *conversation.Store
	uploads *uploads.Cache
	events  Subscriber
	log     *zap.Logger
}

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	tasks := api.Group("/tasks")
	tasks.POST("", h.createTask)
	tasks.POST("/batch", h.createBatch)
	tasks.GET("", h.listTasks)
	tasks.GET("/:id", h.getTask)
	tasks.PATCH("/:id", h.updateTask)
	tasks.DELETE("/:id", h.deleteTask)
	tasks.POST("/:id/resolve-conflict", h.resolveConflict)

	api.POST("/callbacks/workflow", h.workflowCallback)

	convs := api.Group("/conversations")
	convs.POST("", h.startConversation)
	convs.GET("", h.listConversations)
	convs.GET("/:id", h.getConversation)
	convs.POST("/:id/messages", h.appendMessage)
	convs.POST("/:id/apply", h.applyConversation)
	convs.POST("/:id/discard", h.discardConversation)

	ups := api.Group("/uploads")
	ups.POST("", h.createUpload)
	ups.GET("/:token", h.getUpload)
	ups.DELETE("/:token", h.deleteUpload)

	api.GET("/events", h.streamEvents)
}
