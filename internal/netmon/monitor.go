// Package netmon tracks online/offline transitions and estimates connection
// quality via periodic timed health checks.
package netmon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fieldworks/fieldsync/internal/types"
)

// Options configures a Monitor.
type Options struct {
	// Endpoint is the health-check URL. Any non-2xx response or timeout is a
	// connectivity failure.
	Endpoint string

	// Interval between periodic health checks. Defaults to 30s.
	Interval time.Duration

	// Timeout bounds a single health-check request. Defaults to 5s.
	Timeout time.Duration

	// GoodLatency and SlowLatency are the classification thresholds:
	// elapsed < GoodLatency => good, elapsed < SlowLatency => slow.
	GoodLatency time.Duration
	SlowLatency time.Duration

	// Client is the HTTP client used for probes. Defaults to http.DefaultClient.
	Client *http.Client
}

// Monitor maintains the current network status and notifies subscribers on
// every health check, even when the status is unchanged. Subscribers must
// handle duplicate notifications idempotently.
//
// Monitors are constructed explicitly and injected; there is no package-level
// instance.
type Monitor struct {
	opts Options

	mu     sync.RWMutex
	status types.NetworkStatus
	subs   map[int]func(types.NetworkStatus)
	nextID int

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a Monitor. Zero option fields are filled with defaults.
func New(opts Options) *Monitor {
	if opts.Interval == 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.GoodLatency == 0 {
		opts.GoodLatency = 1 * time.Second
	}
	if opts.SlowLatency == 0 {
		opts.SlowLatency = opts.Timeout
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}

	return &Monitor{
		opts: opts,
		// The network is unobserved until the first check completes. Nothing
		// may replay against an unverified link, so the initial state is
		// offline; Start runs a check immediately.
		status: types.NetworkStatus{Online: false, Quality: types.QualityOffline},
		subs:   make(map[int]func(types.NetworkStatus)),
	}
}

// Start begins the periodic health-check loop. Calling Start on a running
// monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(loopCtx, m.done)
}

// Stop tears down the health-check loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	<-m.done
	m.running = false
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	// Check immediately on start, then on each tick
	m.CheckNow(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow issues one bounded health-check request, updates the status, and
// notifies every subscriber.
func (m *Monitor) CheckNow(ctx context.Context) types.NetworkStatus {
	checkCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	start := time.Now()
	quality := m.probe(checkCtx, start)

	status := types.NetworkStatus{
		Online:      quality != types.QualityOffline,
		Quality:     quality,
		LastChecked: time.Now().UTC(),
	}
	m.setStatus(status)
	return status
}

func (m *Monitor) probe(ctx context.Context, start time.Time) types.ConnectionQuality {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.opts.Endpoint, nil)
	if err != nil {
		slog.Error("invalid health endpoint",
			"endpoint", m.opts.Endpoint,
			"error", err,
			"component", "netmon",
		)
		return types.QualityOffline
	}

	resp, err := m.opts.Client.Do(req)
	if err != nil {
		return types.QualityOffline
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.QualityOffline
	}

	elapsed := time.Since(start)
	switch {
	case elapsed < m.opts.GoodLatency:
		return types.QualityGood
	case elapsed < m.opts.SlowLatency:
		return types.QualitySlow
	default:
		return types.QualityOffline
	}
}

// ReportOffline is the platform "offline" event hook. It short-circuits to
// offline immediately without waiting for the next periodic check.
func (m *Monitor) ReportOffline() {
	m.setStatus(types.NetworkStatus{
		Online:      false,
		Quality:     types.QualityOffline,
		LastChecked: time.Now().UTC(),
	})
}

// ReportOnline is the platform "online" event hook. It forces an immediate
// re-check rather than trusting the platform signal.
func (m *Monitor) ReportOnline(ctx context.Context) types.NetworkStatus {
	return m.CheckNow(ctx)
}

// GetStatus is a pure read of the current state.
func (m *Monitor) GetStatus() types.NetworkStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// OnStatusChange registers a callback invoked after every check (changed or
// not) and on platform-event short circuits. It returns an unsubscribe func.
func (m *Monitor) OnStatusChange(cb func(types.NetworkStatus)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = cb

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Monitor) setStatus(status types.NetworkStatus) {
	m.mu.Lock()
	previous := m.status
	m.status = status
	// Copy the subscriber list so callbacks run outside the lock and may
	// unsubscribe themselves without deadlocking.
	cbs := make([]func(types.NetworkStatus), 0, len(m.subs))
	for _, cb := range m.subs {
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()

	if previous.Online != status.Online || previous.Quality != status.Quality {
		slog.Info("network status changed",
			"online", status.Online,
			"quality", string(status.Quality),
			"component", "netmon",
		)
	}

	for _, cb := range cbs {
		cb(status)
	}
}
