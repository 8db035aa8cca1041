package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/crew/internal/credits"
	"github.com/haasonsaas/crew/internal/sessions"
)

// SweepJob closes expired sessions on the given schedule. onClosed, when
// non-nil, receives the number of sessions each run closed.
func SweepJob(sweeper *sessions.Sweeper, schedule string, logger *slog.Logger, onClosed func(n int)) Job {
	return Job{
		Name:     "session-sweep",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			closed, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			if closed > 0 {
				if logger != nil {
					logger.Info("expiry sweep closed sessions", "closed", closed)
				}
				if onClosed != nil {
					onClosed(closed)
				}
			}
			return nil
		},
	}
}

// PruneJob deletes credit ledger entries older than the retention window.
func PruneJob(ledger credits.LedgerStore, schedule string, logger *slog.Logger) Job {
	return Job{
		Name:     "ledger-prune",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			cutoff := credits.PruneCutoff(time.Now().UTC())
			pruned, err := ledger.Prune(ctx, cutoff)
			if err != nil {
				return err
			}
			if pruned > 0 && logger != nil {
				logger.Info("pruned ledger entries", "cutoff", cutoff, "pruned", pruned)
			}
			return nil
		},
	}
}
