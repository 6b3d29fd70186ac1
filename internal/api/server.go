// Package api exposes the task, conversation and upload stores over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/darkroom/internal/conversation"
	"github.com/zulandar/darkroom/internal/events"
	"github.com/zulandar/darkroom/internal/task"
	"github.com/zulandar/darkroom/internal/uploads"
	"go.uber.org/zap"
)

// shutdownTimeout bounds graceful shutdown once ctx is cancelled.
const shutdownTimeout = 10 * time.Second

// Subscriber hands out event streams for SSE clients.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan events.Event, error)
}

// RouterOpts holds the dependencies the handlers need.
type RouterOpts struct {
	Tasks         *task.Store
	Conversations *conversation.Store
	Uploads       *uploads.Cache
	Events        Subscriber  // optional; /api/events answers 503 without it
	Log           *zap.Logger // optional
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	RouterOpts
	Port int
	Out  io.Writer
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts RouterOpts) (*gin.Engine, error) {
	if opts.Tasks == nil {
		return nil, fmt.Errorf("api: task store is required")
	}
	if opts.Conversations == nil {
		return nil, fmt.Errorf("api: conversation store is required")
	}
	if opts.Uploads == nil {
		return nil, fmt.Errorf("api: upload cache is required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	useJSONFieldNames()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Log))

	h := &handlers{
		tasks:   opts.Tasks,
		convs:   opts.Conversations,
		uploads: opts.Uploads,
		events:  opts.Events,
		log:     opts.Log,
	}
	registerRoutes(router, h)
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts.RouterOpts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// requestLogger logs one line per request on the zap logger.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
