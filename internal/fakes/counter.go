// Package fakes provides in-memory collaborators for tests.
package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudbox/stampwatch"
)

type key struct {
	stamp   stampwatch.StampID
	channel stampwatch.ChannelID
}

// Counter is an in-memory stampwatch.Counter. Unknown keys count zero.
type Counter struct {
	mu     sync.Mutex
	counts map[key]int
	fail   map[key]error
	calls  map[key]int
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{
		counts: make(map[key]int),
		fail:   make(map[key]error),
		calls:  make(map[key]int),
	}
}

// Set sets the count of stamp in channel; an empty channel sets the global count.
func (c *Counter) Set(stamp stampwatch.StampID, channel stampwatch.ChannelID, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key{stamp, channel}] = count
}

// Fail makes lookups of stamp in channel fail with err; a nil err clears it.
func (c *Counter) Fail(stamp stampwatch.StampID, channel stampwatch.ChannelID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		delete(c.fail, key{stamp, channel})
		return
	}
	c.fail[key{stamp, channel}] = err
}

// Calls returns how often stamp in channel was looked up.
func (c *Counter) Calls(stamp stampwatch.StampID, channel stampwatch.ChannelID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[key{stamp, channel}]
}

// ChannelCalls returns the number of channel-scoped lookups of any stamp.
func (c *Counter) ChannelCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for k, n := range c.calls {
		if k.channel != "" {
			total += n
		}
	}
	return total
}

// Count implements stampwatch.Counter.
func (c *Counter) Count(_ context.Context, stamp stampwatch.StampID, channel stampwatch.ChannelID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{stamp, channel}
	c.calls[k]++

	if err, ok := c.fail[k]; ok {
		return 0, fmt.Errorf("count %s/%s: %w", stamp, channel, err)
	}

	return c.counts[k], nil
}
