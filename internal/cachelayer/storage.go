package cachelayer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
)

// CachedResponse is a stored HTTP response.
type CachedResponse struct {
	URL    string      `json:"url"`
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"-"`
}

// DiskCache stores responses under one directory per named cache, mirroring
// the platform's named-cache model: entries are only ever evicted by deleting
// a whole cache.
//
// Layout: <root>/<cacheName>/<sha256(url)>.json (meta) + .body (payload).
type DiskCache struct {
	root string
}

// NewDiskCache creates a DiskCache rooted at dir.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &DiskCache{root: dir}, nil
}

func entryKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Put stores a response under the named cache, overwriting any previous entry
// for the same URL.
func (c *DiskCache) Put(cacheName, url string, status int, header http.Header, body []byte) error {
	dir := filepath.Join(c.root, cacheName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	key := entryKey(url)
	meta, err := json.Marshal(CachedResponse{URL: url, Status: status, Header: header})
	if err != nil {
		return fmt.Errorf("marshal cache meta: %w", err)
	}

	// Body lands before meta: an entry whose meta is readable always has a
	// complete body on disk.
	if err := writeFileAtomic(filepath.Join(dir, key+".body"), body); err != nil {
		return fmt.Errorf("write cache body: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, key+".json"), meta); err != nil {
		return fmt.Errorf("write cache meta: %w", err)
	}
	return nil
}

// writeFileAtomic stages data in a temp file and renames it into place, so a
// concurrent reader sees either the previous content or the new content,
// never a partial write.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Get returns the stored response for url, or (nil, nil) on a miss.
func (c *DiskCache) Get(cacheName, url string) (*CachedResponse, error) {
	dir := filepath.Join(c.root, cacheName)
	key := entryKey(url)

	meta, err := os.ReadFile(filepath.Join(dir, key+".json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache meta: %w", err)
	}

	var entry CachedResponse
	if err := json.Unmarshal(meta, &entry); err != nil {
		return nil, fmt.Errorf("parse cache meta: %w", err)
	}

	entry.Body, err = os.ReadFile(filepath.Join(dir, key+".body"))
	if err != nil {
		return nil, fmt.Errorf("read cache body: %w", err)
	}

	return &entry, nil
}

// Names lists all cache names currently on disk.
func (c *DiskCache) Names() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Delete removes a named cache and everything in it.
func (c *DiskCache) Delete(cacheName string) error {
	if err := os.RemoveAll(filepath.Join(c.root, cacheName)); err != nil {
		return fmt.Errorf("delete cache %s: %w", cacheName, err)
	}
	return nil
}
