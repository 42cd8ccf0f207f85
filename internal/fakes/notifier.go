package fakes

import (
	"context"
	"slices"
	"sync"

	"github.com/cloudbox/stampwatch"
)

// Notification is a single call received by Notifier.
type Notification struct {
	Stamp    stampwatch.StampID
	Channels []stampwatch.ChannelID
}

// Notifier is an in-memory stampwatch.Notifier that records every call.
type Notifier struct {
	mu    sync.Mutex
	calls []Notification
	err   error
}

// Fail makes subsequent calls return err after being recorded.
func (n *Notifier) Fail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Calls returns the recorded notifications in call order.
func (n *Notifier) Calls() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.calls)
}

// Notify implements stampwatch.Notifier.
func (n *Notifier) Notify(_ context.Context, stamp stampwatch.StampID, channels []stampwatch.ChannelID) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls = append(n.calls, Notification{
		Stamp:    stamp,
		Channels: slices.Clone(channels),
	})
	return n.err
}
