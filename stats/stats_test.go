package stats

import (
	"sync"
	"testing"
)

func TestSnapshotZeroValue(t *testing.T) {
	if snap := New().Snapshot(); snap != (Snapshot{}) {
		t.Errorf("expected zero snapshot, got %+v", snap)
	}
}

func TestIncrementAndSnapshot(t *testing.T) {
	s := New()

	s.Cycles.Add(10)
	s.Faulted.Add(1)
	s.Branches.Add(4)
	s.BranchFailures.Add(2)
	s.Notified.Add(3)
	s.NotifyFailures.Add(1)

	expected := Snapshot{
		Cycles:         10,
		Faulted:        1,
		Branches:       4,
		BranchFailures: 2,
		Notified:       3,
		NotifyFailures: 1,
	}

	if snap := s.Snapshot(); snap != expected {
		t.Errorf("got %+v, want %+v", snap, expected)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	s := New()

	const goroutines = 100
	const incrementsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines * 2)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range incrementsPerGoroutine {
				s.Branches.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			for range incrementsPerGoroutine {
				s.Notified.Add(1)
			}
		}()
	}

	wg.Wait()
	snap := s.Snapshot()

	expected := int64(goroutines * incrementsPerGoroutine)
	if snap.Branches != expected {
		t.Errorf("expected Branches=%d, got %d", expected, snap.Branches)
	}
	if snap.Notified != expected {
		t.Errorf("expected Notified=%d, got %d", expected, snap.Notified)
	}
}
