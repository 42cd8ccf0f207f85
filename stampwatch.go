// Package stampwatch provides the core types shared by the stamp usage monitor.
package stampwatch

import (
	"context"
	"errors"
	"io"
)

// A StampID identifies a reaction stamp on the chat platform.
type StampID string

// A ChannelID identifies a chat channel.
type ChannelID string

// GlobalSnapshot holds one workspace-wide usage count per tracked stamp.
//
// Snapshots are values: once built they are never modified in place, only
// replaced as a whole.
type GlobalSnapshot map[StampID]int

// Clone returns a copy of the snapshot.
func (s GlobalSnapshot) Clone() GlobalSnapshot {
	c := make(GlobalSnapshot, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// ChannelSnapshot holds one usage count per known channel for a single stamp.
type ChannelSnapshot map[ChannelID]int

// Clone returns a copy of the snapshot.
func (s ChannelSnapshot) Clone() ChannelSnapshot {
	c := make(ChannelSnapshot, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// ChannelSnapshotSet holds one ChannelSnapshot per tracked stamp.
type ChannelSnapshotSet map[StampID]ChannelSnapshot

// Clone returns a deep copy of the set.
func (s ChannelSnapshotSet) Clone() ChannelSnapshotSet {
	c := make(ChannelSnapshotSet, len(s))
	for k, v := range s {
		c[k] = v.Clone()
	}
	return c
}

// A Counter reports how often a stamp has been used by humans, either
// workspace-wide (empty channel) or within a single channel.
//
// Implementations must not retry: a failed lookup fails the snapshot it
// belongs to and the poll loop decides what happens next.
type Counter interface {
	Count(ctx context.Context, stamp StampID, channel ChannelID) (int, error)
}

// A Notifier tells someone that a stamp was newly used in the given channels.
type Notifier interface {
	Notify(ctx context.Context, stamp StampID, channels []ChannelID) error
}

const maxResponseBodySize = 10 * 1024 * 1024 // 10MB

type limitedReadCloser struct {
	io.Reader
	io.Closer
}

// LimitReadCloser wraps rc so that at most maxResponseBodySize bytes are read.
// The underlying body is still closed normally.
func LimitReadCloser(rc io.ReadCloser) io.ReadCloser {
	return &limitedReadCloser{
		Reader: io.LimitReader(rc, maxResponseBodySize),
		Closer: rc,
	}
}

var (
	// ErrRemoteUnavailable is returned when the stats service or the chat
	// platform cannot be reached, answers with an unexpected status, or
	// returns a payload that cannot be decoded.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrPartialBatch is returned by the batch scheduler when any operation
	// of a batch failed. It is always joined with the operation's error.
	ErrPartialBatch = errors.New("partial batch failure")

	// ErrFatal indicates a problem that retrying will not fix, such as
	// rejected credentials or an invalid configuration.
	ErrFatal = errors.New("fatal error")
)
