// Package syncqueue replays queued mutating requests with bounded retry.
package syncqueue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fieldworks/fieldsync/internal/store"
	"github.com/fieldworks/fieldsync/internal/types"
	"github.com/oklog/ulid/v2"
)

// DefaultMaxRetries is the retry budget assigned to new items.
const DefaultMaxRetries = 3

// Sleeper waits for the given duration or until the context is cancelled.
// Injectable so tests do not wait out real backoff delays.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleeper(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Options configures a Manager.
type Options struct {
	Store      store.Store
	Client     *http.Client
	MaxRetries int
	Sleep      Sleeper
}

// Manager owns every SyncQueueItem mutation. Items move only
// pending -> processing -> {completed | pending | failed}; completed items are
// deleted immediately, failed items are retained until RetryFailed.
type Manager struct {
	store      store.Store
	client     *http.Client
	maxRetries int
	sleep      Sleeper

	// wake carries best-effort replay wake-up requests, the stand-in for a
	// platform background-sync registration.
	wake chan struct{}

	mu         sync.Mutex
	processing bool
}

// New creates a Manager. Zero option fields are filled with defaults.
func New(opts Options) *Manager {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Sleep == nil {
		opts.Sleep = defaultSleeper
	}

	return &Manager{
		store:      opts.Store,
		client:     opts.Client,
		maxRetries: opts.MaxRetries,
		sleep:      opts.Sleep,
		wake:       make(chan struct{}, 1),
	}
}

// Enqueue persists a new pending item and requests a best-effort replay
// wake-up. Returns the new item's ID.
func (m *Manager) Enqueue(ctx context.Context, itemType, url, method string, body *string, headers map[string]string) (string, error) {
	if headers == nil {
		headers = map[string]string{}
	}

	item := &types.SyncQueueItem{
		ID:         ulid.Make().String(),
		Type:       itemType,
		URL:        url,
		Method:     method,
		Body:       body,
		Headers:    headers,
		Status:     types.SyncPending,
		RetryCount: 0,
		MaxRetries: m.maxRetries,
		CreatedAt:  time.Now().UTC(),
	}

	if err := m.store.AddToSyncQueue(ctx, item); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	slog.Info("request queued for replay",
		"item_id", item.ID,
		"type", itemType,
		"method", method,
		"component", "syncqueue",
	)

	// Best-effort: a full channel means a wake-up is already requested.
	select {
	case m.wake <- struct{}{}:
	default:
	}

	return item.ID, nil
}

// Wake exposes the wake-up channel for the replay coordinator.
func (m *Manager) Wake() <-chan struct{} {
	return m.wake
}

// ProcessQueue replays all pending items sequentially, one at a time. It is a
// no-op when a pass is already running on this manager instance. Failed items
// are excluded; RetryFailed is the only path back from failed.
func (m *Manager) ProcessQueue(ctx context.Context) error {
	m.mu.Lock()
	if m.processing {
		m.mu.Unlock()
		return nil
	}
	m.processing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.processing = false
		m.mu.Unlock()
	}()

	items, err := m.store.GetSyncQueue(ctx)
	if err != nil {
		return fmt.Errorf("read pending items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	var completed, retried, failed int
	for i := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch m.processItem(ctx, &items[i]) {
		case types.SyncCompleted:
			completed++
		case types.SyncPending:
			retried++
		case types.SyncFailed:
			failed++
		}
	}

	slog.Info("replay pass completed",
		"total", len(items),
		"completed", completed,
		"retried", retried,
		"failed", failed,
		"component", "syncqueue",
	)

	return nil
}

// processItem attempts one replay of a single item and returns the status it
// ended the attempt in. A retryable failure sleeps 2^retryCount seconds before
// marking pending; that delay deliberately blocks the rest of the pass.
func (m *Manager) processItem(ctx context.Context, item *types.SyncQueueItem) types.SyncStatus {
	now := time.Now().UTC()
	if err := m.store.UpdateSyncStatus(ctx, item.ID, types.SyncProcessing, item.RetryCount, &now, item.Error); err != nil {
		slog.Error("failed to mark item processing",
			"item_id", item.ID,
			"error", err,
			"component", "syncqueue",
		)
		return item.Status
	}

	replayErr := m.replay(ctx, item)
	if replayErr == nil {
		// Success leaves no residue in the store.
		if err := m.store.RemoveSyncItem(ctx, item.ID); err != nil {
			slog.Error("failed to remove completed item",
				"item_id", item.ID,
				"error", err,
				"component", "syncqueue",
			)
		}
		slog.Info("item replayed",
			"item_id", item.ID,
			"type", item.Type,
			"component", "syncqueue",
		)
		return types.SyncCompleted
	}

	// Non-2xx responses and transport errors consume retry budget identically.
	item.RetryCount++
	errMsg := replayErr.Error()
	attemptAt := time.Now().UTC()

	if item.RetryCount >= item.MaxRetries {
		if err := m.store.UpdateSyncStatus(ctx, item.ID, types.SyncFailed, item.RetryCount, &attemptAt, &errMsg); err != nil {
			slog.Error("failed to mark item failed",
				"item_id", item.ID,
				"error", err,
				"component", "syncqueue",
			)
		}
		slog.Error("item permanently failed",
			"item_id", item.ID,
			"type", item.Type,
			"attempts", item.RetryCount,
			"error", errMsg,
			"component", "syncqueue",
		)
		return types.SyncFailed
	}

	// Exponential backoff before the item becomes eligible again. The sleep
	// holds up the whole pass; no other item advances during the delay.
	backoff := time.Duration(1<<uint(item.RetryCount)) * time.Second
	slog.Warn("item replay failed, will retry",
		"item_id", item.ID,
		"retry_count", item.RetryCount,
		"backoff", backoff.String(),
		"error", errMsg,
		"component", "syncqueue",
	)
	if err := m.sleep(ctx, backoff); err != nil {
		// Cancelled mid-backoff; the item still returns to pending so the
		// next pass picks it up.
		slog.Warn("backoff interrupted",
			"item_id", item.ID,
			"component", "syncqueue",
		)
	}

	if err := m.store.UpdateSyncStatus(ctx, item.ID, types.SyncPending, item.RetryCount, &attemptAt, &errMsg); err != nil {
		slog.Error("failed to requeue item",
			"item_id", item.ID,
			"error", err,
			"component", "syncqueue",
		)
	}
	return types.SyncPending
}

// replay issues the stored HTTP request. Any non-2xx response is an error.
func (m *Manager) replay(ctx context.Context, item *types.SyncQueueItem) error {
	var bodyReader *strings.Reader
	if item.Body != nil {
		bodyReader = strings.NewReader(*item.Body)
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, item.Method, item.URL, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range item.Headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	return nil
}

// GetQueueStatus returns item counts per status.
func (m *Manager) GetQueueStatus(ctx context.Context) (*types.QueueStatus, error) {
	return m.store.CountByStatus(ctx)
}

// RetryFailed resets all failed items to pending and immediately runs a
// replay pass.
func (m *Manager) RetryFailed(ctx context.Context) error {
	n, err := m.store.ResetFailed(ctx)
	if err != nil {
		return fmt.Errorf("reset failed items: %w", err)
	}
	if n > 0 {
		slog.Info("failed items reset for retry",
			"count", n,
			"component", "syncqueue",
		)
	}
	return m.ProcessQueue(ctx)
}

// ClearCompleted purges items left in the terminal success state by
// interrupted passes.
func (m *Manager) ClearCompleted(ctx context.Context) (int64, error) {
	return m.store.ClearCompleted(ctx)
}
