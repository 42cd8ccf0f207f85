// Package poller drives the periodic snapshot, diff and notify cycle.
//
// After Init has established a baseline, every Cycle builds a fresh global
// snapshot and compares it with the stored one. Only stamps whose global
// count increased get a per-channel snapshot, which is built in its own
// branch goroutine. Branches are not awaited by the cycle; a failed branch
// leaves that stamp's channel baseline untouched so the same comparison is
// made again the next time the stamp increases.
package poller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/cloudbox/stampwatch"
	"github.com/cloudbox/stampwatch/snapshot"
	"github.com/cloudbox/stampwatch/stats"
)

// DefaultInterval is the polling period used when none is configured.
const DefaultInterval = 10 * time.Minute

// ErrCycleFaulted is returned by Cycle when the global snapshot could not be
// built. The stored state is unchanged in that case.
var ErrCycleFaulted = errors.New("cycle faulted")

// ChannelLister resolves the known channels once at startup.
type ChannelLister interface {
	ChannelIDs(ctx context.Context) ([]stampwatch.ChannelID, error)
}

// Config holds configuration for a Poller.
type Config struct {
	Builder  *snapshot.Builder
	Channels ChannelLister
	Notifier stampwatch.Notifier
	Interval time.Duration

	// optional
	Stats     *stats.Stats
	Verbosity string
}

// Poller owns the current snapshots and runs cycles against them.
type Poller struct {
	builder  *snapshot.Builder
	lister   ChannelLister
	notifier stampwatch.Notifier
	interval time.Duration
	stats    *stats.Stats
	log      zerolog.Logger

	state    *State
	channels []stampwatch.ChannelID
	ready    atomic.Bool

	// serialises the global compare-and-commit of overlapping cycles
	cycleMu sync.Mutex

	branches sync.WaitGroup
	cron     *cron.Cron
}

// New creates a Poller. Init must succeed before cycles run.
func New(c Config) (*Poller, error) {
	if c.Builder == nil || c.Channels == nil || c.Notifier == nil {
		return nil, fmt.Errorf("builder, channel lister and notifier are required: %w", stampwatch.ErrFatal)
	}

	interval := c.Interval
	if interval == 0 {
		interval = DefaultInterval
	}

	if interval < 0 {
		return nil, fmt.Errorf("invalid interval %v: %w", interval, stampwatch.ErrFatal)
	}

	st := c.Stats
	if st == nil {
		st = stats.New()
	}

	return &Poller{
		builder:  c.Builder,
		lister:   c.Channels,
		notifier: c.Notifier,
		interval: interval,
		stats:    st,
		log:      stampwatch.GetLogger("poller", c.Verbosity),
	}, nil
}

// Init resolves the known channels and stores the baseline snapshots.
// Any failure is returned; the poller is unusable until Init succeeds.
func (p *Poller) Init(ctx context.Context) error {
	start := time.Now()

	channels, err := p.lister.ChannelIDs(ctx)
	if err != nil {
		return fmt.Errorf("channels: %w", err)
	}

	global, err := p.builder.BuildGlobal(ctx)
	if err != nil {
		return fmt.Errorf("baseline: %w", err)
	}

	set, err := p.builder.BuildChannelSet(ctx, channels)
	if err != nil {
		return fmt.Errorf("baseline: %w", err)
	}

	p.channels = channels
	p.state = NewState(global, set)
	p.ready.Store(true)

	p.log.Info().
		Int("stamps", len(global)).
		Int("channels", len(channels)).
		Dur("elapsed", time.Since(start)).
		Msg("Baseline Established")

	return nil
}

// Ready reports whether Init has completed.
func (p *Poller) Ready() bool {
	return p.ready.Load()
}

// State returns the current state, or nil before Init.
func (p *Poller) State() *State {
	if !p.Ready() {
		return nil
	}
	return p.state
}

// Stats returns the counters the poller reports to.
func (p *Poller) Stats() *stats.Stats {
	return p.stats
}

// Channels returns the known channels resolved by Init.
func (p *Poller) Channels() []stampwatch.ChannelID {
	return slices.Clone(p.channels)
}

// Cycle runs one polling pass. It returns once the global snapshot has been
// committed and a branch has been started for every increased stamp; use
// Wait to block until those branches end. Concurrent calls run their global
// step one after another, so each increase starts a single branch.
func (p *Poller) Cycle(ctx context.Context) error {
	if !p.Ready() {
		return fmt.Errorf("poller not initialised: %w", stampwatch.ErrFatal)
	}

	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	p.stats.Cycles.Add(1)
	start := time.Now()

	previous := p.state.Global()
	current, err := p.builder.BuildGlobal(ctx)
	if err != nil {
		p.stats.Faulted.Add(1)
		p.log.Warn().
			Err(err).
			Msg("Cycle Faulted")
		return fmt.Errorf("%w: %w", ErrCycleFaulted, err)
	}

	increased := snapshot.DiffGlobal(p.builder.Stamps(), previous, current)
	for _, stamp := range increased {
		p.branches.Add(1)
		p.stats.Branches.Add(1)

		go func() {
			defer p.branches.Done()
			p.branch(ctx, stamp)
		}()
	}

	p.state.ReplaceGlobal(current)

	e := p.log.Debug()
	if len(increased) > 0 {
		e = p.log.Info()
	}
	e.Int("increased", len(increased)).
		Dur("elapsed", time.Since(start)).
		Msg("Cycle Finished")

	return nil
}

func (p *Poller) branch(ctx context.Context, stamp stampwatch.StampID) {
	l := p.log.With().Str("stamp_id", string(stamp)).Logger()

	// a missing baseline entry compares as all zeros
	previous, _ := p.state.Channel(stamp)

	current, err := p.builder.BuildChannel(ctx, stamp, p.channels)
	if err != nil {
		p.stats.BranchFailures.Add(1)
		l.Warn().
			Err(err).
			Msg("Branch Failed")
		return
	}

	changed := snapshot.DiffChannel(p.channels, previous, current)
	p.state.ReplaceChannel(stamp, current)

	l.Debug().
		Int("channels", len(changed)).
		Msg("Branch Finished")

	if err := p.notifier.Notify(ctx, stamp, changed); err != nil {
		l.Error().
			Err(err).
			Msg("Notification Failed")
	}
}

// Wait blocks until every started branch has ended.
func (p *Poller) Wait() {
	p.branches.Wait()
}

// Start runs Cycle every interval until Stop is called. Branches started by
// scheduled cycles use ctx.
func (p *Poller) Start(ctx context.Context) error {
	if !p.Ready() {
		return fmt.Errorf("poller not initialised: %w", stampwatch.ErrFatal)
	}

	p.cron = cron.New()
	job := cron.FuncJob(func() {
		// faults are logged by Cycle and retried next interval
		_ = p.Cycle(ctx)
	})

	p.cron.Schedule(cron.Every(p.interval), cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(job))
	p.cron.Start()

	p.log.Info().
		Dur("interval", p.interval).
		Msg("Polling Started")

	return nil
}

// Stop stops scheduling cycles and waits for a running cycle to return.
// Outstanding branches keep running; cancel their context and call Wait to
// end them.
func (p *Poller) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}
