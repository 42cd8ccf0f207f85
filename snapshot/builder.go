// Package snapshot builds usage-count snapshots and diffs them.
package snapshot

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/cloudbox/stampwatch"
	"github.com/cloudbox/stampwatch/batch"
)

// Config holds configuration for a Builder.
type Config struct {
	Counter stampwatch.Counter

	// Stamps are the tracked stamps in declaration order.
	Stamps []stampwatch.StampID

	// BatchSize caps concurrent per-channel lookups for one stamp.
	// Non-positive values fall back to batch.DefaultSize.
	BatchSize int
}

// Builder composes counter lookups into complete snapshots. A Builder holds
// no mutable state and is safe for concurrent use.
type Builder struct {
	counter   stampwatch.Counter
	stamps    []stampwatch.StampID
	batchSize int
}

// New returns a Builder for the given Config.
func New(cfg Config) *Builder {
	return &Builder{
		counter:   cfg.Counter,
		stamps:    slices.Clone(cfg.Stamps),
		batchSize: cfg.BatchSize,
	}
}

// Stamps returns the tracked stamps in declaration order.
func (b *Builder) Stamps() []stampwatch.StampID {
	return slices.Clone(b.stamps)
}

// BuildGlobal fetches the workspace-wide count of every tracked stamp
// concurrently. It fails as a whole if any lookup fails.
func (b *Builder) BuildGlobal(ctx context.Context) (stampwatch.GlobalSnapshot, error) {
	counts := make([]int, len(b.stamps))

	g, gctx := errgroup.WithContext(ctx)
	for i, stamp := range b.stamps {
		g.Go(func() error {
			count, err := b.counter.Count(gctx, stamp, "")
			if err != nil {
				return err
			}

			counts[i] = count
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("global snapshot: %w", err)
	}

	snap := make(stampwatch.GlobalSnapshot, len(b.stamps))
	for i, stamp := range b.stamps {
		snap[stamp] = counts[i]
	}

	return snap, nil
}

// BuildChannel fetches the count of stamp in every known channel, at most
// BatchSize lookups at a time. It fails as a whole if any lookup fails.
func (b *Builder) BuildChannel(ctx context.Context, stamp stampwatch.StampID, channels []stampwatch.ChannelID) (stampwatch.ChannelSnapshot, error) {
	counts, err := batch.Map(ctx, channels, b.batchSize, func(ctx context.Context, channel stampwatch.ChannelID) (int, error) {
		return b.counter.Count(ctx, stamp, channel)
	})
	if err != nil {
		return nil, fmt.Errorf("channel snapshot %s: %w", stamp, err)
	}

	snap := make(stampwatch.ChannelSnapshot, len(channels))
	for i, channel := range channels {
		snap[channel] = counts[i]
	}

	return snap, nil
}

// BuildChannelSet runs BuildChannel for every tracked stamp concurrently.
// It fails as a whole if any stamp fails.
func (b *Builder) BuildChannelSet(ctx context.Context, channels []stampwatch.ChannelID) (stampwatch.ChannelSnapshotSet, error) {
	snaps := make([]stampwatch.ChannelSnapshot, len(b.stamps))

	g, gctx := errgroup.WithContext(ctx)
	for i, stamp := range b.stamps {
		g.Go(func() error {
			snap, err := b.BuildChannel(gctx, stamp, channels)
			if err != nil {
				return err
			}

			snaps[i] = snap
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := make(stampwatch.ChannelSnapshotSet, len(b.stamps))
	for i, stamp := range b.stamps {
		set[stamp] = snaps[i]
	}

	return set, nil
}
