// Package cache stores completed evaluation results keyed by cache key.
//
// The scheduler writes; UI surfaces and the HTTP API read. Readers must
// tolerate "not yet present" and must not assume read-then-submit is
// atomic: two submissions for the same key before either completes are
// possible, and callers are the ones expected to check here first.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jobfit-sh/jobfit/internal/model"
)

// ResultCache caches evaluation results with a TTL. When Path is set the
// cache is mirrored to a JSON file so scores survive daemon restarts; the
// task queue itself stays in-memory.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	path    string
}

type entry struct {
	Result   model.Result `json:"result"`
	CachedAt time.Time    `json:"cached_at"`
}

// New creates a cache with the given TTL. A TTL of 0 means entries never
// expire. path may be empty for a purely in-memory cache.
func New(ttl time.Duration, path string) *ResultCache {
	return &ResultCache{
		entries: make(map[string]*entry),
		ttl:     ttl,
		path:    path,
	}
}

// DefaultPath returns the on-disk cache location under the XDG state dir.
func DefaultPath() string {
	if stateDir := os.Getenv("XDG_STATE_HOME"); stateDir != "" {
		return filepath.Join(stateDir, "jobfit", "results.json")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "jobfit", "results.json")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("jobfit-%d", os.Getuid()), "results.json")
}

// Load reads previously persisted entries from disk. Missing or corrupt
// files are not errors; the cache just starts empty.
func (c *ResultCache) Load() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var stored map[string]*entry
	if err := json.Unmarshal(data, &stored); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range stored {
		if c.expired(e) {
			continue
		}
		c.entries[key] = e
	}
}

// Get returns the cached result for key, or false when absent or expired.
func (c *ResultCache) Get(key string) (*model.Result, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.expired(e) {
		return nil, false
	}
	r := e.Result
	return &r, true
}

// Put stores a result under key. Idempotent overwrite: a second write for
// the same key simply replaces the first.
func (c *ResultCache) Put(key string, result model.Result) {
	c.mu.Lock()
	c.entries[key] = &entry{Result: result, CachedAt: time.Now()}
	snapshot := c.persistable()
	c.mu.Unlock()

	c.persist(snapshot)
}

// Len returns the number of live entries.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, e := range c.entries {
		if !c.expired(e) {
			n++
		}
	}
	return n
}

func (c *ResultCache) expired(e *entry) bool {
	return c.ttl > 0 && time.Since(e.CachedAt) > c.ttl
}

func (c *ResultCache) persistable() map[string]*entry {
	if c.path == "" {
		return nil
	}
	out := make(map[string]*entry, len(c.entries))
	for k, e := range c.entries {
		if c.expired(e) {
			continue
		}
		out[k] = e
	}
	return out
}

// persist rewrites the cache file atomically (write temp, rename).
// Best-effort: persistence failures never fail the evaluation.
func (c *ResultCache) persist(snapshot map[string]*entry) {
	if c.path == "" || snapshot == nil {
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, c.path)
}
