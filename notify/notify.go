// Package notify tells the configured user where a tracked stamp was used.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cloudbox/stampwatch"
	"github.com/cloudbox/stampwatch/batch"
	"github.com/cloudbox/stampwatch/history"
	"github.com/cloudbox/stampwatch/stats"
)

// Platform is the part of the chat platform a Notifier talks to.
type Platform interface {
	StampName(ctx context.Context, stamp stampwatch.StampID) (string, error)
	ChannelPath(ctx context.Context, channel stampwatch.ChannelID) (string, error)
	PostMessage(ctx context.Context, channel stampwatch.ChannelID, content string, embed bool) error
}

// Recorder stores dispatched notifications.
type Recorder interface {
	Record(ctx context.Context, e *history.Entry) error
}

// Config holds configuration for a Notifier.
type Config struct {
	Include   []string `yaml:"include"`
	Exclude   []string `yaml:"exclude"`
	Verbosity string   `yaml:"verbosity"`

	Platform    Platform             `yaml:"-"`
	Destination stampwatch.ChannelID `yaml:"-"`
	BatchSize   int                  `yaml:"-"`

	// optional
	History Recorder     `yaml:"-"`
	Stats   *stats.Stats `yaml:"-"`
}

// Notifier posts one message per notification to a fixed destination channel.
type Notifier struct {
	platform    Platform
	destination stampwatch.ChannelID
	filter      stampwatch.PathFilter
	batchSize   int
	history     Recorder
	stats       *stats.Stats
	log         zerolog.Logger
}

// New creates a Notifier. It fails if a filter pattern does not compile.
func New(c Config) (*Notifier, error) {
	if c.Platform == nil {
		return nil, fmt.Errorf("platform required: %w", stampwatch.ErrFatal)
	}

	if c.Destination == "" {
		return nil, fmt.Errorf("destination channel required: %w", stampwatch.ErrFatal)
	}

	filter, err := stampwatch.NewPathFilter(c.Include, c.Exclude)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", err, stampwatch.ErrFatal)
	}

	return &Notifier{
		platform:    c.Platform,
		destination: c.Destination,
		filter:      filter,
		batchSize:   c.BatchSize,
		history:     c.History,
		stats:       c.Stats,
		log:         stampwatch.GetLogger("notify", c.Verbosity),
	}, nil
}

// Message renders the notification text for a stamp and the paths of the
// channels it was used in.
func Message(stampName string, paths []string) string {
	tags := make([]string, len(paths))
	for i, p := range paths {
		tags[i] = "#" + p
	}

	return fmt.Sprintf("%s に :%s: が押された投稿があります :choo-choo-train-nya:",
		strings.Join(tags, ", "), stampName)
}

// Notify resolves the stamp name and channel paths and posts the message.
// A non-empty channel list whose paths are all filtered out is skipped.
func (n *Notifier) Notify(ctx context.Context, stamp stampwatch.StampID, channels []stampwatch.ChannelID) error {
	l := n.log.With().
		Str("stamp_id", string(stamp)).
		Int("channels", len(channels)).
		Logger()

	name, err := n.platform.StampName(ctx, stamp)
	if err != nil {
		n.failed(ctx, &history.Entry{Stamp: stamp, Channels: channels}, err)
		return fmt.Errorf("stamp name: %w", err)
	}

	paths, err := batch.Map(ctx, channels, n.batchSize, n.platform.ChannelPath)
	if err != nil {
		n.failed(ctx, &history.Entry{Stamp: stamp, StampName: name, Channels: channels}, err)
		return fmt.Errorf("channel paths: %w", err)
	}

	keptChannels := make([]stampwatch.ChannelID, 0, len(channels))
	keptPaths := make([]string, 0, len(paths))
	for i, p := range paths {
		if !n.filter(p) {
			l.Trace().Str("path", p).Msg("Channel Filtered")
			continue
		}

		keptChannels = append(keptChannels, channels[i])
		keptPaths = append(keptPaths, p)
	}

	if len(channels) > 0 && len(keptChannels) == 0 {
		l.Debug().Msg("Notification Skipped")
		return nil
	}

	entry := &history.Entry{
		Stamp:     stamp,
		StampName: name,
		Channels:  keptChannels,
		Content:   Message(name, keptPaths),
	}

	if err := n.platform.PostMessage(ctx, n.destination, entry.Content, true); err != nil {
		n.failed(ctx, entry, err)
		return fmt.Errorf("post message: %w", err)
	}

	entry.Delivered = true
	n.record(ctx, entry)
	if n.stats != nil {
		n.stats.Notified.Add(1)
	}

	l.Info().
		Str("stamp", name).
		Strs("paths", keptPaths).
		Msg("Notification Sent")

	return nil
}

func (n *Notifier) failed(ctx context.Context, e *history.Entry, err error) {
	e.Error = err.Error()
	n.record(ctx, e)
	if n.stats != nil {
		n.stats.NotifyFailures.Add(1)
	}
}

func (n *Notifier) record(ctx context.Context, e *history.Entry) {
	if n.history == nil {
		return
	}

	if err := n.history.Record(ctx, e); err != nil {
		n.log.Warn().
			Err(err).
			Str("stamp_id", string(e.Stamp)).
			Msg("History Record Failed")
	}
}
