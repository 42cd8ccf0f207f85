// Package stats provides atomic counters for poll cycle metrics.
package stats

import "sync/atomic"

// Stats holds atomic counters for poll cycle metrics.
type Stats struct {
	Cycles         atomic.Int64
	Faulted        atomic.Int64
	Branches       atomic.Int64
	BranchFailures atomic.Int64
	Notified       atomic.Int64
	NotifyFailures atomic.Int64
}

// New returns a zero-valued Stats ready for use.
func New() *Stats {
	return &Stats{}
}

// Snapshot is a plain-struct copy of all counters at a point in time.
type Snapshot struct {
	Cycles         int64 `json:"cycles"`
	Faulted        int64 `json:"faulted"`
	Branches       int64 `json:"branches"`
	BranchFailures int64 `json:"branch_failures"`
	Notified       int64 `json:"notified"`
	NotifyFailures int64 `json:"notify_failures"`
}

// Snapshot reads every counter and returns a plain copy. Counters are read
// one by one, so a snapshot taken mid-cycle may mix two cycles.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Cycles:         s.Cycles.Load(),
		Faulted:        s.Faulted.Load(),
		Branches:       s.Branches.Load(),
		BranchFailures: s.BranchFailures.Load(),
		Notified:       s.Notified.Load(),
		NotifyFailures: s.NotifyFailures.Load(),
	}
}
