// Package worker contains the background coordinators: queue replay on
// reconnect, deferred photo upload, and reference cache sweeping. Each
// coordinator exposes a blocking Run(ctx) and stops when ctx is cancelled.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldworks/fieldsync/internal/types"
)

// QueueProcessor defines the replay operations required by the coordinator.
// Implemented by syncqueue.Manager.
type QueueProcessor interface {
	ProcessQueue(ctx context.Context) error
	Wake() <-chan struct{}
}

// StatusSource provides connectivity state and change notifications.
// Implemented by netmon.Monitor.
type StatusSource interface {
	GetStatus() types.NetworkStatus
	OnStatusChange(cb func(types.NetworkStatus)) func()
}

// ReplayCoordinator drives queue replay passes. A pass runs when connectivity
// returns, when an enqueue requests a wake-up, and on a periodic interval as a
// safety net.
type ReplayCoordinator struct {
	queue    QueueProcessor
	network  StatusSource
	interval time.Duration

	mu        sync.Mutex
	wasOnline bool
}

// NewReplayCoordinator creates a coordinator. interval is the periodic safety
// net between event-driven passes.
func NewReplayCoordinator(queue QueueProcessor, network StatusSource, interval time.Duration) *ReplayCoordinator {
	return &ReplayCoordinator{
		queue:    queue,
		network:  network,
		interval: interval,
	}
}

// Run starts the coordinator loop. It blocks until ctx is cancelled.
//
// Replay runs immediately on start so items queued during a previous run are
// not stuck waiting for the first event.
func (c *ReplayCoordinator) Run(ctx context.Context) {
	slog.Info("replay coordinator started",
		"component", "worker",
		"worker", "replay-coordinator",
		"interval", c.interval.String(),
	)

	// Seed edge detection from the current state so a device that starts
	// offline still gets a pass on its first verified reconnect.
	c.mu.Lock()
	c.wasOnline = c.network.GetStatus().Online
	c.mu.Unlock()

	// Status callbacks fire on every check; only the offline-to-online edge
	// triggers a pass.
	reconnect := make(chan struct{}, 1)
	unsubscribe := c.network.OnStatusChange(func(status types.NetworkStatus) {
		if c.cameOnline(status.Online) {
			select {
			case reconnect <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.process(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			slog.Info("replay coordinator stopped",
				"component", "worker",
				"worker", "replay-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-reconnect:
			c.process(ctx, "reconnect")
		case <-c.queue.Wake():
			c.process(ctx, "enqueue")
		case <-ticker.C:
			c.process(ctx, "interval")
		}
	}
}

// cameOnline records the latest online flag and reports whether this
// observation is an offline-to-online transition.
func (c *ReplayCoordinator) cameOnline(online bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	edge := !c.wasOnline && online
	c.wasOnline = online
	return edge
}

func (c *ReplayCoordinator) process(ctx context.Context, trigger string) {
	if !c.network.GetStatus().Online {
		return
	}

	if err := c.queue.ProcessQueue(ctx); err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		slog.Error("replay pass failed",
			"component", "worker",
			"worker", "replay-coordinator",
			"trigger", trigger,
			"error", err,
		)
	}
}
