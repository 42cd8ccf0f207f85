package main

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog/log"

	"github.com/cloudbox/stampwatch/stats"
)

type historyCounter interface {
	Count(ctx context.Context) (int, error)
}

func logStats(ctx context.Context, st *stats.Stats, hist historyCounter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := st.Snapshot()

		recorded, err := hist.Count(ctx)
		if err != nil {
			log.Error().
				Err(err).
				Msg("Poll Stats Failed")
			continue
		}

		log.Info().
			Int64("cycles", snap.Cycles).
			Int64("faulted", snap.Faulted).
			Int64("branches", snap.Branches).
			Int64("branch_failures", snap.BranchFailures).
			Int64("notified", snap.Notified).
			Int64("notify_failures", snap.NotifyFailures).
			Int("recorded", recorded).
			Msg("Poll Stats")

		status := fmt.Sprintf(
			"STATUS=cycles: %d | faulted: %d | notified: %d | failed: %d",
			snap.Cycles, snap.Faulted, snap.Notified, snap.NotifyFailures,
		)
		_, _ = daemon.SdNotify(false, status)
	}
}
