package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/darkroom/internal/apperr"
)

type uploadResponse struct {
	Token       string    `json:"token"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int       `json:"size"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (h *handlers) createUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		h.fail(c, fmt.Errorf("%w: file is required", apperr.ErrInvalidInput))
		return
	}
	limit := h.uploads.MaxBytes()
	if fh.Size > int64(limit) {
		h.fail(c, fmt.Errorf("%w: %d bytes exceeds limit of %d", apperr.ErrInvalidInput, fh.Size, limit))
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.fail(c, fmt.Errorf("api: open upload: %w", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		h.fail(c, fmt.Errorf("api: read upload: %w", err))
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	u, err := h.uploads.Put(fh.Filename, contentType, data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, uploadResponse{
		Token:       u.Token,
		Name:        u.Name,
		ContentType: u.ContentType,
		Size:        len(u.Data),
		ExpiresAt:   u.ExpiresAt,
	})
}

func (h *handlers) getUpload(c *gin.Context) {
	u, ok := h.uploads.Get(c.Param("token"))
	if !ok {
		h.fail(c, fmt.Errorf("upload: %w: %s", apperr.ErrNotFound, c.Param("token")))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", u.Name))
	c.Data(http.StatusOK, u.ContentType, u.Data)
}

func (h *handlers) deleteUpload(c *gin.Context) {
	h.uploads.Delete(c.Param("token"))
	c.Status(http.StatusNoContent)
}
