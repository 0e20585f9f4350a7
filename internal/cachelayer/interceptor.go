// Package cachelayer intercepts outgoing requests at the transport boundary
// and applies one of three caching strategies by route shape: cache-first for
// static assets, stale-while-revalidate for reference data, and network-first
// with a timeout for everything else. Cache lifecycle is whole-cache
// versioning; there is no per-entry eviction.
package cachelayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"
)

// SourceHeader tags responses served from cache on the network-first path.
const SourceHeader = "X-APCD-Source"

var staticExtensions = map[string]bool{
	".js":    true,
	".css":   true,
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".svg":   true,
	".ico":   true,
	".woff":  true,
	".woff2": true,
}

var referencePaths = []string{"/reference/", "/apcd-types", "/states"}

// Options configures an Interceptor.
type Options struct {
	// Base is the transport actually performing network fetches.
	// Defaults to http.DefaultTransport.
	Base http.RoundTripper

	// Cache is the backing named-cache storage.
	Cache *DiskCache

	// Version names the current deployment; bumping it invalidates all three
	// caches via the next Activate sweep.
	Version string

	// NetworkTimeout bounds the network attempt on the network-first path.
	// Defaults to 5s.
	NetworkTimeout time.Duration

	// OfflineFallback is the precached page served to HTML navigations that
	// miss both network and cache.
	OfflineFallback string
}

// Interceptor applies the caching strategies. It is stateless per request and
// safe for concurrent use.
type Interceptor struct {
	base            http.RoundTripper
	cache           *DiskCache
	staticCache     string
	apiCache        string
	referenceCache  string
	networkTimeout  time.Duration
	offlineFallback string
}

var _ http.RoundTripper = (*Interceptor)(nil)

// New creates an Interceptor. Zero option fields are filled with defaults.
func New(opts Options) *Interceptor {
	if opts.Base == nil {
		opts.Base = http.DefaultTransport
	}
	if opts.NetworkTimeout == 0 {
		opts.NetworkTimeout = 5 * time.Second
	}

	return &Interceptor{
		base:            opts.Base,
		cache:           opts.Cache,
		staticCache:     "apcd-static-" + opts.Version,
		apiCache:        "apcd-api-" + opts.Version,
		referenceCache:  "apcd-reference-" + opts.Version,
		networkTimeout:  opts.NetworkTimeout,
		offlineFallback: opts.OfflineFallback,
	}
}

// CacheNames returns the three versioned cache names in use.
func (i *Interceptor) CacheNames() []string {
	return []string{i.staticCache, i.apiCache, i.referenceCache}
}

// RoundTrip classifies the request and applies the matching strategy.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	// Non-GET requests and non-HTTP(S) schemes bypass the layer entirely.
	if req.Method != http.MethodGet || (req.URL.Scheme != "http" && req.URL.Scheme != "https") {
		return i.base.RoundTrip(req)
	}

	switch {
	case isStaticAsset(req.URL.Path):
		return i.cacheFirst(req)
	case isReferencePath(req.URL.Path):
		return i.staleWhileRevalidate(req)
	default:
		return i.networkFirst(req)
	}
}

func isStaticAsset(p string) bool {
	return staticExtensions[strings.ToLower(path.Ext(p))]
}

func isReferencePath(p string) bool {
	for _, marker := range referencePaths {
		if strings.Contains(p, marker) {
			return true
		}
	}
	return false
}

func isAPIPath(p string) bool {
	return strings.Contains(p, "/api/")
}

// cacheFirst serves from cache if present; otherwise fetches, stores a copy on
// success, and serves. Total failure yields a 503 placeholder.
func (i *Interceptor) cacheFirst(req *http.Request) (*http.Response, error) {
	if entry := i.lookup(i.staticCache, req); entry != nil {
		return rebuild(req, entry), nil
	}

	resp, body, err := i.fetch(req, i.base)
	if err != nil {
		return i.placeholder(req), nil
	}
	if isOK(resp.StatusCode) {
		i.storeCopy(i.staticCache, req, resp, body)
	}
	return withBody(resp, body), nil
}

// staleWhileRevalidate serves the cached response immediately while refreshing
// the cache concurrently. With no cached entry it blocks on the network.
func (i *Interceptor) staleWhileRevalidate(req *http.Request) (*http.Response, error) {
	if entry := i.lookup(i.referenceCache, req); entry != nil {
		go i.revalidate(req)
		return rebuild(req, entry), nil
	}

	resp, body, err := i.fetch(req, i.base)
	if err != nil {
		return nil, err
	}
	if isOK(resp.StatusCode) {
		i.storeCopy(i.referenceCache, req, resp, body)
	}
	return withBody(resp, body), nil
}

// revalidate refetches in the background and overwrites the cache on success.
// Detached from the caller's context: the original request has already been
// answered by the time this runs.
func (i *Interceptor) revalidate(req *http.Request) {
	refreshReq := req.Clone(context.WithoutCancel(req.Context()))
	resp, body, err := i.fetch(refreshReq, i.base)
	if err != nil {
		slog.Debug("reference revalidation failed",
			"url", req.URL.String(),
			"error", err,
			"component", "cachelayer",
		)
		return
	}
	if isOK(resp.StatusCode) {
		i.storeCopy(i.referenceCache, refreshReq, resp, body)
	}
}

// networkFirst races the network against the timeout; on failure it serves the
// cached copy tagged with SourceHeader, or synthesizes an offline response.
func (i *Interceptor) networkFirst(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), i.networkTimeout)
	defer cancel()

	resp, body, err := i.fetch(req.Clone(ctx), i.base)
	if err == nil {
		if isOK(resp.StatusCode) {
			i.storeCopy(i.apiCache, req, resp, body)
		}
		return withBody(resp, body), nil
	}

	if entry := i.lookup(i.apiCache, req); entry != nil {
		cached := rebuild(req, entry)
		cached.Header.Set(SourceHeader, "cache")
		return cached, nil
	}

	if isAPIPath(req.URL.Path) {
		return i.offlineJSON(req), nil
	}
	if isNavigation(req) {
		if fallback := i.offlinePage(req); fallback != nil {
			return fallback, nil
		}
	}
	return i.placeholder(req), nil
}

func isNavigation(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// Precache fetches the shell URLs into the current static cache. This is the
// install step; any fetch failure aborts the install.
func (i *Interceptor) Precache(ctx context.Context, urls []string) error {
	for _, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("precache %s: %w", u, err)
		}
		resp, body, err := i.fetch(req, i.base)
		if err != nil {
			return fmt.Errorf("precache %s: %w", u, err)
		}
		if !isOK(resp.StatusCode) {
			return fmt.Errorf("precache %s: server returned %s", u, resp.Status)
		}
		i.storeCopy(i.staticCache, req, resp, body)
	}

	slog.Info("shell precached",
		"count", len(urls),
		"cache", i.staticCache,
		"component", "cachelayer",
	)
	return nil
}

// Activate sweeps every cache whose name does not belong to the current
// version. This is the only mechanism bounding cache growth across deployments.
func (i *Interceptor) Activate(ctx context.Context) error {
	names, err := i.cache.Names()
	if err != nil {
		return fmt.Errorf("activate sweep: %w", err)
	}

	current := map[string]bool{
		i.staticCache:    true,
		i.apiCache:       true,
		i.referenceCache: true,
	}

	for _, name := range names {
		if current[name] {
			continue
		}
		if err := i.cache.Delete(name); err != nil {
			return fmt.Errorf("activate sweep: %w", err)
		}
		slog.Info("stale cache deleted",
			"cache", name,
			"component", "cachelayer",
		)
	}
	return nil
}

// --- plumbing ---

func isOK(status int) bool {
	return status >= 200 && status < 300
}

// fetch performs the request and drains the body so it can be both cached and
// served.
func (i *Interceptor) fetch(req *http.Request, rt http.RoundTripper) (*http.Response, []byte, error) {
	resp, err := rt.RoundTrip(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp, body, nil
}

func (i *Interceptor) lookup(cacheName string, req *http.Request) *CachedResponse {
	entry, err := i.cache.Get(cacheName, req.URL.String())
	if err != nil {
		slog.Warn("cache read failed",
			"url", req.URL.String(),
			"error", err,
			"component", "cachelayer",
		)
		return nil
	}
	return entry
}

func (i *Interceptor) storeCopy(cacheName string, req *http.Request, resp *http.Response, body []byte) {
	if err := i.cache.Put(cacheName, req.URL.String(), resp.StatusCode, resp.Header, body); err != nil {
		slog.Warn("cache write failed",
			"url", req.URL.String(),
			"error", err,
			"component", "cachelayer",
		)
	}
}

// rebuild turns a cached entry back into an *http.Response.
func rebuild(req *http.Request, entry *CachedResponse) *http.Response {
	header := make(http.Header, len(entry.Header))
	for k, vs := range entry.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	return &http.Response{
		StatusCode:    entry.Status,
		Status:        fmt.Sprintf("%d %s", entry.Status, http.StatusText(entry.Status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}

// withBody re-attaches a drained body to a live response.
func withBody(resp *http.Response, body []byte) *http.Response {
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp
}

// offlineJSON synthesizes the structured offline error for API paths.
func (i *Interceptor) offlineJSON(req *http.Request) *http.Response {
	payload, _ := json.Marshal(map[string]string{
		"error":   "OFFLINE",
		"message": "This request requires a network connection.",
	})
	header := http.Header{"Content-Type": []string{"application/json"}}
	return synthesize(req, http.StatusServiceUnavailable, header, payload)
}

// offlinePage serves the precached offline fallback for HTML navigations.
func (i *Interceptor) offlinePage(req *http.Request) *http.Response {
	if i.offlineFallback == "" {
		return nil
	}
	fallbackURL := *req.URL
	fallbackURL.Path = i.offlineFallback
	fallbackURL.RawQuery = ""

	entry, err := i.cache.Get(i.staticCache, fallbackURL.String())
	if err != nil || entry == nil {
		return nil
	}
	return rebuild(req, entry)
}

func (i *Interceptor) placeholder(req *http.Request) *http.Response {
	header := http.Header{"Content-Type": []string{"text/plain"}}
	return synthesize(req, http.StatusServiceUnavailable, header, []byte("offline"))
}

func synthesize(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
