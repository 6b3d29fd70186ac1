// Package docsync pushes task records to the external document backend and
// keeps their sync state and sync logs current.
package docsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zulandar/darkroom/internal/config"
	"github.com/zulandar/darkroom/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Syncer pushes one task to the document backend and returns the backend's
// record ID.
type Syncer interface {
	Push(ctx context.Context, t *models.Task) (string, error)
}

// WebhookSyncer posts task records as JSON to an HTTP endpoint.
type WebhookSyncer struct {
	endpoint string
	client   *http.Client
}

// NewWebhookSyncer builds a WebhookSyncer authenticated with either a static
// bearer token or OAuth2 client credentials.
func NewWebhookSyncer(ctx context.Context, cfg config.SyncConfig) (*WebhookSyncer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("docsync: endpoint is required")
	}

	base := &http.Client{Timeout: 15 * time.Second}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	var client *http.Client
	switch {
	case cfg.Token != "":
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	case cfg.ClientID != "" && cfg.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client = cc.Client(ctx)
	default:
		return nil, fmt.Errorf("docsync: token or client credentials are required")
	}
	client.Timeout = base.Timeout

	return &WebhookSyncer{endpoint: cfg.Endpoint, client: client}, nil
}

// record is the document shape sent to the backend.
type record struct {
	RecordID        string    `json:"recordId,omitempty"`
	TaskID          string    `json:"taskId"`
	Prompt          string    `json:"prompt"`
	OriginalPrompt  string    `json:"originalPrompt,omitempty"`
	OptimizedPrompt string    `json:"optimizedPrompt,omitempty"`
	Status          string    `json:"status"`
	Progress        int       `json:"progress"`
	ResultImages    []string  `json:"resultImages"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	AIModel         string    `json:"aiModel,omitempty"`
	AspectRatio     string    `json:"aspectRatio,omitempty"`
	Version         int       `json:"version"`
	LastModifiedBy  string    `json:"lastModifiedBy"`
	LastModifiedAt  time.Time `json:"lastModifiedAt"`
}

// Push sends t and returns the record ID from the response. A task that
// already has an external record ID is sent with it so the backend updates
// in place.
func (w *WebhookSyncer) Push(ctx context.Context, t *models.Task) (string, error) {
	body, err := json.Marshal(record{
		RecordID:        t.ExternalRecordID,
		TaskID:          t.ID,
		Prompt:          t.Prompt,
		OriginalPrompt:  t.OriginalPrompt,
		OptimizedPrompt: t.OptimizedPrompt,
		Status:          t.Status,
		Progress:        t.Progress,
		ResultImages:    []string(t.ResultImages),
		ErrorMessage:    t.ErrorMessage,
		AIModel:         t.AIModel,
		AspectRatio:     t.AspectRatio,
		Version:         t.Version,
		LastModifiedBy:  t.LastModifiedBy,
		LastModifiedAt:  t.LastModifiedAt,
	})
	if err != nil {
		return "", fmt.Errorf("docsync: marshal %s: %w", t.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("docsync: request %s: %w", t.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("docsync: push %s: %w", t.ID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("docsync: read response for %s: %w", t.ID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("docsync: push %s: status %d: %s", t.ID, resp.StatusCode, bytes.TrimSpace(data))
	}

	var out struct {
		RecordID string `json:"recordId"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return "", fmt.Errorf("docsync: decode response for %s: %w", t.ID, err)
		}
	}
	if out.RecordID == "" {
		out.RecordID = t.ExternalRecordID
	}
	return out.RecordID, nil
}
