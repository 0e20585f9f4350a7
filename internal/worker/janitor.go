package worker

import (
	"context"
	"log/slog"
	"time"
)

// ReferencePurger deletes expired reference cache rows. Implemented by
// SQLiteStore.
type ReferencePurger interface {
	PurgeExpiredReferences(ctx context.Context) (int64, error)
}

// ReferenceJanitor sweeps expired reference cache rows on an interval.
// Reads already evict lazily; the janitor bounds growth of rows nobody
// reads again.
type ReferenceJanitor struct {
	store    ReferencePurger
	interval time.Duration
}

// NewReferenceJanitor creates a janitor.
func NewReferenceJanitor(store ReferencePurger, interval time.Duration) *ReferenceJanitor {
	return &ReferenceJanitor{store: store, interval: interval}
}

// Run starts the janitor loop. It blocks until ctx is cancelled. The first
// sweep waits for the first tick; there is no backlog to catch up on at start.
func (j *ReferenceJanitor) Run(ctx context.Context) {
	slog.Info("reference janitor started",
		"component", "worker",
		"worker", "reference-janitor",
		"interval", j.interval.String(),
	)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reference janitor stopped",
				"component", "worker",
				"worker", "reference-janitor",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *ReferenceJanitor) sweep(ctx context.Context) {
	n, err := j.store.PurgeExpiredReferences(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		slog.Error("reference sweep failed",
			"component", "worker",
			"worker", "reference-janitor",
			"error", err,
		)
		return
	}
	if n > 0 {
		slog.Info("expired references purged",
			"component", "worker",
			"worker", "reference-janitor",
			"purged", n,
		)
	}
}
