package artifact

import (
	"sync"
	"time"
)

// Cache serves decoded artifact bundles with an optional TTL. It is an
// explicit object handed to collaborators rather than package state, so
// tests and servers control its lifetime and invalidation.
type Cache struct {
	dir string
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	loaded   *Artifacts
	loadedAt time.Time
}

// NewCache constructs a cache over the artifact directory. A zero TTL keeps
// bundles until Invalidate is called.
func NewCache(dir string, ttl time.Duration) *Cache {
	return &Cache{dir: dir, ttl: ttl, now: time.Now}
}

// Dir returns the artifact directory the cache reads from.
func (c *Cache) Dir() string { return c.dir }

// Get returns the cached bundle, reloading it from disk when the cache is
// empty or the TTL has elapsed.
func (c *Cache) Get() (*Artifacts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded != nil {
		if c.ttl <= 0 || c.now().Sub(c.loadedAt) < c.ttl {
			return c.loaded, nil
		}
	}

	artifacts, err := Load(c.dir)
	if err != nil {
		return nil, err
	}
	c.loaded = artifacts
	c.loadedAt = c.now()
	return artifacts, nil
}

// Invalidate drops the cached bundle so the next Get reloads from disk.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = nil
}
