package poller

import (
	"sync"

	"github.com/cloudbox/stampwatch"
)

// State holds the current snapshots. Snapshots are swapped whole, so a
// reader sees either the previous or the next complete snapshot.
type State struct {
	mu       sync.RWMutex
	global   stampwatch.GlobalSnapshot
	channels stampwatch.ChannelSnapshotSet
}

// NewState returns a State holding the given baseline.
func NewState(global stampwatch.GlobalSnapshot, channels stampwatch.ChannelSnapshotSet) *State {
	return &State{
		global:   global,
		channels: channels,
	}
}

// Global returns a copy of the stored global snapshot.
func (s *State) Global() stampwatch.GlobalSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global.Clone()
}

// Channel returns a copy of the stored channel snapshot of stamp.
func (s *State) Channel(stamp stampwatch.StampID) (stampwatch.ChannelSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.channels[stamp]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

// Channels returns a copy of the stored channel snapshot set.
func (s *State) Channels() stampwatch.ChannelSnapshotSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels.Clone()
}

// ReplaceGlobal replaces the stored global snapshot.
func (s *State) ReplaceGlobal(snap stampwatch.GlobalSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = snap
}

// ReplaceChannel replaces the stored channel snapshot of stamp only. The
// set itself is copied so that earlier readers keep their view.
func (s *State) ReplaceChannel(stamp stampwatch.StampID, snap stampwatch.ChannelSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(stampwatch.ChannelSnapshotSet, len(s.channels)+1)
	for k, v := range s.channels {
		next[k] = v
	}
	next[stamp] = snap
	s.channels = next
}
