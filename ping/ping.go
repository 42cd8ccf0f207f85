// Package ping answers trigger messages with the bot's observed latency.
package ping

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudbox/stampwatch"
	"github.com/cloudbox/stampwatch/traq"
)

// DefaultTrigger is the substring that makes the responder reply.
const DefaultTrigger = "ping"

// Poster posts a message to a channel.
type Poster interface {
	PostMessage(ctx context.Context, channel stampwatch.ChannelID, content string, embed bool) error
}

// Config holds configuration for a Responder.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Trigger   string `yaml:"trigger"`
	Verbosity string `yaml:"verbosity"`
}

// Responder replies to messages containing the trigger.
type Responder struct {
	poster  Poster
	trigger string
	log     zerolog.Logger
}

// New creates a Responder posting through p.
func New(c Config, p Poster) *Responder {
	trigger := c.Trigger
	if trigger == "" {
		trigger = DefaultTrigger
	}

	return &Responder{
		poster:  p,
		trigger: trigger,
		log:     stampwatch.GetLogger("ping", c.Verbosity),
	}
}

// Handle implements traq.Handler.
func (r *Responder) Handle(ctx context.Context, event traq.MessageEvent) error {
	if event.AuthorBot || !strings.Contains(event.PlainText, r.trigger) {
		return nil
	}

	latency := now().Sub(event.CreatedAt).Milliseconds()
	content := fmt.Sprintf("@%s pong! (%dms)", event.Author, latency)

	if err := r.poster.PostMessage(ctx, event.ChannelID, content, true); err != nil {
		return fmt.Errorf("reply %s: %w", event.ID, err)
	}

	r.log.Debug().
		Str("author", event.Author).
		Str("channel_id", string(event.ChannelID)).
		Int64("latency_ms", latency).
		Msg("Pong Sent")

	return nil
}

var now = time.Now
