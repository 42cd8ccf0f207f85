package poller

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/cloudbox/stampwatch"
	"github.com/cloudbox/stampwatch/internal/fakes"
	"github.com/cloudbox/stampwatch/snapshot"
	"github.com/cloudbox/stampwatch/stats"
)

type channelList struct {
	ids []stampwatch.ChannelID
	err error
}

func (c channelList) ChannelIDs(context.Context) ([]stampwatch.ChannelID, error) {
	return c.ids, c.err
}

var (
	stamps   = []stampwatch.StampID{"A", "B"}
	channels = []stampwatch.ChannelID{"c1", "c2"}
)

type env struct {
	counter  *fakes.Counter
	notifier *fakes.Notifier
	stats    *stats.Stats
	poller   *Poller
}

// newEnv returns an initialised poller with the baseline
// {A:5, B:2}, A per channel {c1:3, c2:2}, B per channel {c1:1, c2:1}.
func newEnv(t *testing.T) *env {
	t.Helper()

	counter := fakes.NewCounter()
	counter.Set("A", "", 5)
	counter.Set("B", "", 2)
	counter.Set("A", "c1", 3)
	counter.Set("A", "c2", 2)
	counter.Set("B", "c1", 1)
	counter.Set("B", "c2", 1)

	notifier := &fakes.Notifier{}
	st := stats.New()

	p, err := New(Config{
		Builder:  snapshot.New(snapshot.Config{Counter: counter, Stamps: stamps, BatchSize: 10}),
		Channels: channelList{ids: channels},
		Notifier: notifier,
		Interval: time.Minute,
		Stats:    st,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	return &env{
		counter:  counter,
		notifier: notifier,
		stats:    st,
		poller:   p,
	}
}

func (e *env) cycle(t *testing.T) error {
	t.Helper()

	err := e.poller.Cycle(context.Background())
	e.poller.Wait()
	return err
}

func TestInit(t *testing.T) {
	e := newEnv(t)

	if !e.poller.Ready() {
		t.Fatal("expected poller to be ready")
	}

	wantGlobal := stampwatch.GlobalSnapshot{"A": 5, "B": 2}
	if got := e.poller.State().Global(); !reflect.DeepEqual(got, wantGlobal) {
		t.Errorf("global = %v, want %v", got, wantGlobal)
	}

	wantChannels := stampwatch.ChannelSnapshotSet{
		"A": {"c1": 3, "c2": 2},
		"B": {"c1": 1, "c2": 1},
	}
	if got := e.poller.State().Channels(); !reflect.DeepEqual(got, wantChannels) {
		t.Errorf("channels = %v, want %v", got, wantChannels)
	}

	if len(e.notifier.Calls()) != 0 {
		t.Error("baseline must not notify")
	}
}

func TestInitFailure(t *testing.T) {
	t.Run("Channel list", func(t *testing.T) {
		p, err := New(Config{
			Builder:  snapshot.New(snapshot.Config{Counter: fakes.NewCounter(), Stamps: stamps}),
			Channels: channelList{err: stampwatch.ErrRemoteUnavailable},
			Notifier: &fakes.Notifier{},
		})
		if err != nil {
			t.Fatal(err)
		}

		if err := p.Init(context.Background()); !errors.Is(err, stampwatch.ErrRemoteUnavailable) {
			t.Errorf("expected ErrRemoteUnavailable, got %v", err)
		}

		if p.Ready() || p.State() != nil {
			t.Error("expected poller not to be ready")
		}

		if err := p.Cycle(context.Background()); !errors.Is(err, stampwatch.ErrFatal) {
			t.Errorf("expected ErrFatal before init, got %v", err)
		}
	})

	t.Run("Channel baseline", func(t *testing.T) {
		counter := fakes.NewCounter()
		counter.Fail("B", "c2", stampwatch.ErrRemoteUnavailable)

		p, err := New(Config{
			Builder:  snapshot.New(snapshot.Config{Counter: counter, Stamps: stamps}),
			Channels: channelList{ids: channels},
			Notifier: &fakes.Notifier{},
		})
		if err != nil {
			t.Fatal(err)
		}

		if err := p.Init(context.Background()); !errors.Is(err, stampwatch.ErrPartialBatch) {
			t.Errorf("expected ErrPartialBatch, got %v", err)
		}
	})
}

func TestCycleNotifiesIncreasedChannels(t *testing.T) {
	e := newEnv(t)

	e.counter.Set("B", "", 3)
	e.counter.Set("B", "c2", 2)

	if err := e.cycle(t); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	want := []fakes.Notification{
		{Stamp: "B", Channels: []stampwatch.ChannelID{"c2"}},
	}
	if got := e.notifier.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("notifications = %+v, want %+v", got, want)
	}

	// A did not increase so its channels were never fetched again
	if n := e.counter.Calls("A", "c1"); n != 1 {
		t.Errorf("A/c1 lookups = %d, want 1", n)
	}

	wantGlobal := stampwatch.GlobalSnapshot{"A": 5, "B": 3}
	if got := e.poller.State().Global(); !reflect.DeepEqual(got, wantGlobal) {
		t.Errorf("global = %v, want %v", got, wantGlobal)
	}

	wantB := stampwatch.ChannelSnapshot{"c1": 1, "c2": 2}
	if got, _ := e.poller.State().Channel("B"); !reflect.DeepEqual(got, wantB) {
		t.Errorf("channel B = %v, want %v", got, wantB)
	}

	if s := e.stats.Snapshot(); s.Cycles != 1 || s.Branches != 1 || s.BranchFailures != 0 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestCycleWithoutChangesFetchesNoChannels(t *testing.T) {
	e := newEnv(t)
	before := e.counter.ChannelCalls()

	for i := 0; i < 3; i++ {
		if err := e.cycle(t); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	if after := e.counter.ChannelCalls(); after != before {
		t.Errorf("channel lookups = %d, want %d", after, before)
	}

	if len(e.notifier.Calls()) != 0 {
		t.Errorf("unexpected notifications: %+v", e.notifier.Calls())
	}
}

func TestCycleIgnoresDecrease(t *testing.T) {
	e := newEnv(t)
	before := e.counter.ChannelCalls()

	e.counter.Set("A", "", 4)

	if err := e.cycle(t); err != nil {
		t.Fatal(err)
	}

	if len(e.notifier.Calls()) != 0 {
		t.Errorf("unexpected notifications: %+v", e.notifier.Calls())
	}

	if e.counter.ChannelCalls() != before {
		t.Error("decrease must not start a branch")
	}

	if got := e.poller.State().Global()["A"]; got != 4 {
		t.Errorf("stored A = %d, want 4", got)
	}
}

func TestCycleGlobalFailureKeepsState(t *testing.T) {
	e := newEnv(t)

	e.counter.Set("B", "", 3)
	e.counter.Set("B", "c1", 2)
	e.counter.Fail("A", "", fmt.Errorf("traqing: %w", stampwatch.ErrRemoteUnavailable))

	before := e.poller.State().Global()

	err := e.cycle(t)
	if !errors.Is(err, ErrCycleFaulted) {
		t.Fatalf("expected ErrCycleFaulted, got %v", err)
	}

	if !errors.Is(err, stampwatch.ErrRemoteUnavailable) {
		t.Errorf("expected ErrRemoteUnavailable, got %v", err)
	}

	if got := e.poller.State().Global(); !reflect.DeepEqual(got, before) {
		t.Errorf("global = %v, want unchanged %v", got, before)
	}

	if len(e.notifier.Calls()) != 0 {
		t.Error("faulted cycle must not notify")
	}

	// the next cycle compares against the same baseline
	e.counter.Fail("A", "", nil)
	if err := e.cycle(t); err != nil {
		t.Fatal(err)
	}

	want := []fakes.Notification{
		{Stamp: "B", Channels: []stampwatch.ChannelID{"c1"}},
	}
	if got := e.notifier.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("notifications = %+v, want %+v", got, want)
	}

	if s := e.stats.Snapshot(); s.Cycles != 2 || s.Faulted != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestBranchFailureIsIsolated(t *testing.T) {
	e := newEnv(t)

	e.counter.Set("A", "", 6)
	e.counter.Set("A", "c2", 3)
	e.counter.Set("B", "", 3)
	e.counter.Set("B", "c1", 2)
	e.counter.Fail("B", "c2", stampwatch.ErrRemoteUnavailable)

	if err := e.cycle(t); err != nil {
		t.Fatalf("branch failures must not fail the cycle: %v", err)
	}

	want := []fakes.Notification{
		{Stamp: "A", Channels: []stampwatch.ChannelID{"c2"}},
	}
	if got := e.notifier.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("notifications = %+v, want %+v", got, want)
	}

	wantB := stampwatch.ChannelSnapshot{"c1": 1, "c2": 1}
	if got, _ := e.poller.State().Channel("B"); !reflect.DeepEqual(got, wantB) {
		t.Errorf("channel B = %v, want unchanged %v", got, wantB)
	}

	wantA := stampwatch.ChannelSnapshot{"c1": 3, "c2": 3}
	if got, _ := e.poller.State().Channel("A"); !reflect.DeepEqual(got, wantA) {
		t.Errorf("channel A = %v, want %v", got, wantA)
	}

	if s := e.stats.Snapshot(); s.Branches != 2 || s.BranchFailures != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestNotifyFailureKeepsReplacement(t *testing.T) {
	e := newEnv(t)
	e.notifier.Fail(stampwatch.ErrRemoteUnavailable)

	e.counter.Set("A", "", 6)
	e.counter.Set("A", "c1", 4)

	if err := e.cycle(t); err != nil {
		t.Fatal(err)
	}

	if len(e.notifier.Calls()) != 1 {
		t.Fatalf("expected one notification attempt, got %d", len(e.notifier.Calls()))
	}

	wantA := stampwatch.ChannelSnapshot{"c1": 4, "c2": 2}
	if got, _ := e.poller.State().Channel("A"); !reflect.DeepEqual(got, wantA) {
		t.Errorf("channel A = %v, want %v", got, wantA)
	}

	// no duplicate on the next cycle
	if err := e.cycle(t); err != nil {
		t.Fatal(err)
	}

	if len(e.notifier.Calls()) != 1 {
		t.Errorf("expected no retry, got %d calls", len(e.notifier.Calls()))
	}
}

func TestGlobalIncreaseWithoutChannelIncreaseStillNotifies(t *testing.T) {
	e := newEnv(t)

	// usage in a channel the poller does not know about
	e.counter.Set("A", "", 6)

	if err := e.cycle(t); err != nil {
		t.Fatal(err)
	}

	calls := e.notifier.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one notification, got %d", len(calls))
	}

	if calls[0].Stamp != "A" || len(calls[0].Channels) != 0 {
		t.Errorf("unexpected notification: %+v", calls[0])
	}
}

func TestStateReplaceChannelKeepsReaderViews(t *testing.T) {
	s := NewState(
		stampwatch.GlobalSnapshot{"A": 1},
		stampwatch.ChannelSnapshotSet{"A": {"c1": 1}},
	)

	view := s.Channels()
	s.ReplaceChannel("A", stampwatch.ChannelSnapshot{"c1": 2})

	if view["A"]["c1"] != 1 {
		t.Error("earlier view must not change")
	}

	got, ok := s.Channel("A")
	if !ok || got["c1"] != 2 {
		t.Errorf("channel A = %v, %v", got, ok)
	}

	got["c1"] = 100
	if again, _ := s.Channel("A"); again["c1"] != 2 {
		t.Error("returned snapshot must be a copy")
	}

	if _, ok := s.Channel("missing"); ok {
		t.Error("expected missing stamp to be reported")
	}
}

func TestNew(t *testing.T) {
	builder := snapshot.New(snapshot.Config{Counter: fakes.NewCounter(), Stamps: stamps})

	if _, err := New(Config{Builder: builder}); !errors.Is(err, stampwatch.ErrFatal) {
		t.Errorf("expected ErrFatal for missing collaborators, got %v", err)
	}

	_, err := New(Config{
		Builder:  builder,
		Channels: channelList{},
		Notifier: &fakes.Notifier{},
		Interval: -time.Second,
	})
	if !errors.Is(err, stampwatch.ErrFatal) {
		t.Errorf("expected ErrFatal for negative interval, got %v", err)
	}

	p, err := New(Config{
		Builder:  builder,
		Channels: channelList{},
		Notifier: &fakes.Notifier{},
	})
	if err != nil {
		t.Fatal(err)
	}

	if p.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", p.interval, DefaultInterval)
	}
}

func TestStartRunsCycles(t *testing.T) {
	e := newEnv(t)
	e.poller.interval = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := e.poller.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for e.stats.Cycles.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	e.poller.Stop()
	e.poller.Wait()

	if e.stats.Cycles.Load() == 0 {
		t.Error("expected at least one scheduled cycle")
	}
}

// gatedCounter holds matching lookups until released or until their context
// is done. Lookups that are not gated pass straight through.
type gatedCounter struct {
	*fakes.Counter

	mu      sync.Mutex
	gate    func(channel stampwatch.ChannelID) bool
	entered chan struct{}
	release chan struct{}
}

func newGatedCounter(counter *fakes.Counter) *gatedCounter {
	return &gatedCounter{
		Counter: counter,
		entered: make(chan struct{}, 100),
		release: make(chan struct{}),
	}
}

func (g *gatedCounter) hold(gate func(channel stampwatch.ChannelID) bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = gate
}

func (g *gatedCounter) Count(ctx context.Context, stamp stampwatch.StampID, channel stampwatch.ChannelID) (int, error) {
	g.mu.Lock()
	gate := g.gate
	g.mu.Unlock()

	if gate != nil && gate(channel) {
		g.entered <- struct{}{}

		select {
		case <-g.release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	return g.Counter.Count(ctx, stamp, channel)
}

func newGatedEnv(t *testing.T) (*env, *gatedCounter) {
	t.Helper()

	counter := fakes.NewCounter()
	counter.Set("A", "", 5)
	counter.Set("A", "c1", 1)

	gated := newGatedCounter(counter)
	notifier := &fakes.Notifier{}
	st := stats.New()

	p, err := New(Config{
		Builder:  snapshot.New(snapshot.Config{Counter: gated, Stamps: []stampwatch.StampID{"A"}}),
		Channels: channelList{ids: []stampwatch.ChannelID{"c1"}},
		Notifier: notifier,
		Stats:    st,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	return &env{counter: counter, notifier: notifier, stats: st, poller: p}, gated
}

func TestOverlappingCyclesNotifyOnce(t *testing.T) {
	e, gated := newGatedEnv(t)

	e.counter.Set("A", "", 6)
	e.counter.Set("A", "c1", 2)
	gated.hold(func(channel stampwatch.ChannelID) bool { return channel == "" })

	ctx := context.Background()
	errs := make(chan error, 2)

	go func() { errs <- e.poller.Cycle(ctx) }()
	<-gated.entered

	// the second cycle starts while the first one is still fetching
	go func() { errs <- e.poller.Cycle(ctx) }()
	time.Sleep(50 * time.Millisecond)

	close(gated.release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("cycle: %v", err)
		}
	}
	e.poller.Wait()

	want := []fakes.Notification{
		{Stamp: "A", Channels: []stampwatch.ChannelID{"c1"}},
	}
	if got := e.notifier.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("notifications for one increase = %+v, want %+v", got, want)
	}

	if s := e.stats.Snapshot(); s.Cycles != 2 || s.Branches != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestCancelEndsOutstandingBranches(t *testing.T) {
	e, gated := newGatedEnv(t)

	e.counter.Set("A", "", 6)
	e.counter.Set("A", "c1", 2)
	gated.hold(func(channel stampwatch.ChannelID) bool { return channel != "" })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := e.poller.Cycle(ctx); err != nil {
		t.Fatal(err)
	}
	<-gated.entered

	// Stop must not wait for the branch stuck in its channel lookup
	e.poller.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		e.poller.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("branch did not end after cancellation")
	}

	if len(e.notifier.Calls()) != 0 {
		t.Errorf("cancelled branch must not notify: %+v", e.notifier.Calls())
	}

	if s := e.stats.Snapshot(); s.BranchFailures != 1 {
		t.Errorf("branch failures = %d, want 1", s.BranchFailures)
	}

	want := stampwatch.ChannelSnapshot{"c1": 1}
	if got, _ := e.poller.State().Channel("A"); !reflect.DeepEqual(got, want) {
		t.Errorf("channel A = %v, want unchanged %v", got, want)
	}
}
