// Package slack posts task notifications to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/darkroom/internal/notify"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Notifier posts formatted events as Slack attachments.
type Notifier struct {
	client    slackClient
	channelID string
}

// Opts holds parameters for creating a Slack Notifier.
type Opts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Notifier{client: client, channelID: opts.ChannelID}, nil
}

// Name implements notify.Notifier.
func (n *Notifier) Name() string { return "slack" }

// Notify implements notify.Notifier.
func (n *Notifier) Notify(ctx context.Context, evt notify.FormattedEvent) error {
	options := buildMessageOptions(evt)
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := n.client.PostMessageContext(ctx, n.channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// buildMessageOptions renders evt as a single attachment with a text fallback.
func buildMessageOptions(evt notify.FormattedEvent) []slackapi.MsgOption {
	return []slackapi.MsgOption{
		slackapi.MsgOptionAttachments(eventToAttachment(evt)),
		slackapi.MsgOptionText(evt.Title, false),
	}
}

// eventToAttachment converts a FormattedEvent to a Slack Attachment.
func eventToAttachment(evt notify.FormattedEvent) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    evt.Title,
		Text:     evt.Body,
		Color:    evt.Color,
		Fallback: evt.Title,
	}
	for _, f := range evt.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors,
// honoring RetryAfter when Slack sends one.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
