package cachelayer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedTransport fakes the network. Each call is delegated to the current
// handler; swap the handler to simulate going offline.
type scriptedTransport struct {
	calls   atomic.Int64
	handler atomic.Value // func(*http.Request) (*http.Response, error)
}

func newScriptedTransport(h func(*http.Request) (*http.Response, error)) *scriptedTransport {
	t := &scriptedTransport{}
	t.handler.Store(h)
	return t
}

func (s *scriptedTransport) set(h func(*http.Request) (*http.Response, error)) {
	s.handler.Store(h)
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls.Add(1)
	h := s.handler.Load().(func(*http.Request) (*http.Response, error))
	return h(req)
}

func ok(body string) func(*http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Status:     "200 OK",
			Header:     http.Header{"Content-Type": []string{"text/plain"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    req,
		}, nil
	}
}

func down(req *http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func newInterceptor(t *testing.T, base http.RoundTripper) *Interceptor {
	t.Helper()
	// Not t.TempDir: background revalidation goroutines may still be writing
	// into the cache when the test returns, so cleanup retries the removal.
	dir, err := os.MkdirTemp("", "cachelayer-test-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() {
		for range 100 {
			if err := os.RemoveAll(dir); err == nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Errorf("cleanup: could not remove %s", dir)
	})
	cache, err := NewDiskCache(dir)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	return New(Options{
		Base:            base,
		Cache:           cache,
		Version:         "v1",
		NetworkTimeout:  100 * time.Millisecond,
		OfflineFallback: "/offline.html",
	})
}

func get(t *testing.T, i *Interceptor, url string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := i.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip %s: %v", url, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestRoundTrip_NonGETBypassesLayer(t *testing.T) {
	base := newScriptedTransport(ok("created"))
	i := newInterceptor(t, base)

	req, _ := http.NewRequest(http.MethodPost, "https://example.com/api/applications", bytes.NewReader(nil))
	resp, err := i.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	resp.Body.Close()

	// Going offline, replaying the POST must hit the network, not a cache.
	base.set(down)
	req2, _ := http.NewRequest(http.MethodPost, "https://example.com/api/applications", bytes.NewReader(nil))
	if _, err := i.RoundTrip(req2); err == nil {
		t.Error("expected POST to bypass cache and fail offline")
	}
}

func TestCacheFirst_ServesFromCacheAfterFirstFetch(t *testing.T) {
	base := newScriptedTransport(ok("console.log(1)"))
	i := newInterceptor(t, base)

	first := get(t, i, "https://example.com/assets/app.js", nil)
	if readBody(t, first) != "console.log(1)" {
		t.Fatal("first fetch should come from network")
	}

	base.set(down)
	second := get(t, i, "https://example.com/assets/app.js", nil)
	if readBody(t, second) != "console.log(1)" {
		t.Error("expected cached asset while offline")
	}
	if second.StatusCode != 200 {
		t.Errorf("expected 200 from cache, got %d", second.StatusCode)
	}
}

func TestCacheFirst_TotalFailureReturnsPlaceholder(t *testing.T) {
	i := newInterceptor(t, newScriptedTransport(down))

	resp := get(t, i, "https://example.com/assets/missing.css", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 placeholder, got %d", resp.StatusCode)
	}
}

func TestStaleWhileRevalidate_ServesStaleAndRefreshes(t *testing.T) {
	base := newScriptedTransport(ok("v1-list"))
	i := newInterceptor(t, base)
	url := "https://example.com/api/reference/apcd-types"

	// Prime the cache.
	resp := get(t, i, url, nil)
	if readBody(t, resp) != "v1-list" {
		t.Fatal("priming fetch failed")
	}

	// Server now returns new data: the stale copy is served immediately,
	// the refresh lands in the background.
	base.set(ok("v2-list"))
	resp = get(t, i, url, nil)
	if readBody(t, resp) != "v1-list" {
		t.Error("expected stale copy served immediately")
	}

	// Wait for the async revalidation to overwrite the cache.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp = get(t, i, url, nil)
		if readBody(t, resp) == "v2-list" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("revalidation never refreshed the cache")
}

func TestStaleWhileRevalidate_MissBlocksOnNetwork(t *testing.T) {
	base := newScriptedTransport(ok("states"))
	i := newInterceptor(t, base)

	resp := get(t, i, "https://example.com/api/states", nil)
	if readBody(t, resp) != "states" {
		t.Error("expected network response on cache miss")
	}
	if base.calls.Load() != 1 {
		t.Errorf("expected exactly one network call, got %d", base.calls.Load())
	}
}

func TestNetworkFirst_FailureServesCachedCopyTagged(t *testing.T) {
	base := newScriptedTransport(ok(`{"items":[]}`))
	i := newInterceptor(t, base)
	url := "https://example.com/api/applications"

	resp := get(t, i, url, nil)
	if resp.Header.Get(SourceHeader) != "" {
		t.Error("network responses must not carry the cache tag")
	}
	readBody(t, resp)

	base.set(down)
	resp = get(t, i, url, nil)
	if readBody(t, resp) != `{"items":[]}` {
		t.Error("expected cached API response while offline")
	}
	if resp.Header.Get(SourceHeader) != "cache" {
		t.Errorf("expected %s: cache, got %q", SourceHeader, resp.Header.Get(SourceHeader))
	}
}

func TestNetworkFirst_APIMissSynthesizesOfflineJSON(t *testing.T) {
	i := newInterceptor(t, newScriptedTransport(down))

	resp := get(t, i, "https://example.com/api/applications/42", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, `"OFFLINE"`) {
		t.Errorf("expected structured OFFLINE error, got %s", body)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("expected JSON content type, got %s", resp.Header.Get("Content-Type"))
	}
}

func TestNetworkFirst_NavigationMissServesOfflinePage(t *testing.T) {
	base := newScriptedTransport(ok("<html>offline</html>"))
	i := newInterceptor(t, base)

	// Install step precaches the fallback page.
	if err := i.Precache(context.Background(), []string{"https://example.com/offline.html"}); err != nil {
		t.Fatalf("Precache: %v", err)
	}

	base.set(down)
	resp := get(t, i, "https://example.com/inspections/42", map[string]string{"Accept": "text/html"})
	if readBody(t, resp) != "<html>offline</html>" {
		t.Error("expected precached offline fallback page")
	}
}

func TestNetworkFirst_TimeoutFallsBackToCache(t *testing.T) {
	slow := func(req *http.Request) (*http.Response, error) {
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(5 * time.Second):
			return ok("late")(req)
		}
	}

	base := newScriptedTransport(ok("fast"))
	i := newInterceptor(t, base)
	url := "https://example.com/api/lookup"

	readBody(t, get(t, i, url, nil)) // prime
	base.set(slow)

	start := time.Now()
	resp := get(t, i, url, nil)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout did not bound the request: %v", elapsed)
	}
	if readBody(t, resp) != "fast" {
		t.Error("expected cached copy after timeout")
	}
}

func TestActivate_SweepsOnlyStaleVersions(t *testing.T) {
	cache, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	// Leftovers from a previous deployment plus a current entry.
	for _, name := range []string{"apcd-static-v0", "apcd-api-v0", "apcd-reference-v0"} {
		if err := cache.Put(name, "https://example.com/x", 200, nil, []byte("old")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := cache.Put("apcd-static-v1", "https://example.com/x", 200, nil, []byte("new")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	i := New(Options{Base: newScriptedTransport(down), Cache: cache, Version: "v1"})
	if err := i.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	names, err := cache.Names()
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if len(names) != 1 || names[0] != "apcd-static-v1" {
		t.Errorf("expected only current-version caches, got %v", names)
	}
}

func TestPrecache_FailureAbortsInstall(t *testing.T) {
	i := newInterceptor(t, newScriptedTransport(down))

	err := i.Precache(context.Background(), []string{"https://example.com/index.html"})
	if err == nil {
		t.Error("expected install to fail when a shell URL cannot be fetched")
	}
}
