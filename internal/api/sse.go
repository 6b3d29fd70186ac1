package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// heartbeatInterval keeps idle SSE connections open through proxies.
const heartbeatInterval = 15 * time.Second

// streamEvents relays task events as server-sent events until the client
// disconnects. ?taskId= narrows the stream to one task.
func (h *handlers) streamEvents(c *gin.Context) {
	if h.events == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: "event stream unavailable"})
		return
	}
	ctx := c.Request.Context()
	evts, err := h.events.Subscribe(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	taskID := c.Query("taskId")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case evt, ok := <-evts:
			if !ok {
				return
			}
			if taskID != "" && evt.TaskID != taskID {
				continue
			}
			if err := writeSSE(c.Writer, string(evt.Kind), evt); err != nil {
				h.log.Debug("sse write", zap.Error(err))
				return
			}
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	return err
}
