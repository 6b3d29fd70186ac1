// Package discord posts task notifications to a Discord channel.
package discord

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/darkroom/internal/notify"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 30 * time.Second
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts formatted events as Discord embeds over the REST API.
type Notifier struct {
	sess        session
	channelID   string
	log         *zap.Logger
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Opts holds parameters for creating a Discord Notifier.
type Opts struct {
	BotToken  string
	ChannelID string
	Log       *zap.Logger
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel is required")
	}
	sess := opts.Session
	if sess == nil {
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: new session: %w", err)
		}
		sess = s
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Notifier{
		sess:        sess,
		channelID:   opts.ChannelID,
		log:         opts.Log,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Name implements notify.Notifier.
func (n *Notifier) Name() string { return "discord" }

// Notify implements notify.Notifier.
func (n *Notifier) Notify(ctx context.Context, evt notify.FormattedEvent) error {
	data := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{eventToEmbed(evt)}}
	err := n.retryOnRateLimit(ctx, func() error {
		_, sendErr := n.sess.ChannelMessageSendComplex(n.channelID, data, discordgo.WithContext(ctx))
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// eventToEmbed converts a FormattedEvent to a Discord Embed.
func eventToEmbed(evt notify.FormattedEvent) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       evt.Title,
		Description: evt.Body,
	}
	if evt.Color != "" {
		embed.Color = parseHexColor(evt.Color)
	}
	for _, f := range evt.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

// retryOnRateLimit calls fn and retries with exponential backoff on HTTP 429.
func (n *Notifier) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * n.baseBackoff
		if wait > n.maxBackoff {
			wait = n.maxBackoff
		}
		n.log.Info("discord rate limited", zap.Int("attempt", attempt+1), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
