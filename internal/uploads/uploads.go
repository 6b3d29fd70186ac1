// Package uploads holds uploaded images between the upload request and the
// task creation that references them.
//
// The cache is process-local and NOT durable: entries are lost on restart and
// evicted after their TTL. Anything that must survive belongs in object
// storage, referenced by URL from a task.
package uploads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/darkroom/internal/apperr"
)

// Default configuration values for Cache.
const (
	DefaultTTL           = 30 * time.Minute
	DefaultMaxBytes      = 10 << 20
	DefaultSweepInterval = time.Minute
)

// Upload is a cached file.
type Upload struct {
	Token       string
	Name        string
	ContentType string
	Data        []byte
	ExpiresAt   time.Time
}

// Cache is a TTL cache of uploads keyed by an opaque token.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*Upload
	ttl      time.Duration
	maxBytes int
	now      func() time.Time
}

// CacheOpts holds parameters for creating a Cache.
type CacheOpts struct {
	TTL      time.Duration    // defaults to DefaultTTL
	MaxBytes int              // per upload; defaults to DefaultMaxBytes
	Now      func() time.Time // defaults to time.Now
}

// NewCache creates an empty Cache.
func NewCache(opts CacheOpts) *Cache {
	c := &Cache{
		entries:  make(map[string]*Upload),
		ttl:      opts.TTL,
		maxBytes: opts.MaxBytes,
		now:      opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.maxBytes <= 0 {
		c.maxBytes = DefaultMaxBytes
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// MaxBytes returns the per-upload size limit.
func (c *Cache) MaxBytes() int { return c.maxBytes }

// Put stores data and returns the new entry.
func (c *Cache) Put(name, contentType string, data []byte) (*Upload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("uploads: %w: empty file", apperr.ErrInvalidInput)
	}
	if len(data) > c.maxBytes {
		return nil, fmt.Errorf("uploads: %w: %d bytes exceeds limit of %d", apperr.ErrInvalidInput, len(data), c.maxBytes)
	}

	u := &Upload{
		Token:       uuid.NewString(),
		Name:        name,
		ContentType: contentType,
		Data:        data,
		ExpiresAt:   c.now().Add(c.ttl),
	}

	c.mu.Lock()
	c.entries[u.Token] = u
	c.mu.Unlock()
	return u, nil
}

// Get returns the upload for token if present and unexpired.
func (c *Cache) Get(token string) (*Upload, bool) {
	c.mu.RLock()
	u, ok := c.entries[token]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(u.ExpiresAt) {
		c.Delete(token)
		return nil, false
	}
	return u, true
}

// Delete removes token. Missing tokens are ignored.
func (c *Cache) Delete(token string) {
	c.mu.Lock()
	delete(c.entries, token)
	c.mu.Unlock()
}

// Len returns the number of entries, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep evicts expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for token, u := range c.entries {
		if !now.Before(u.ExpiresAt) {
			delete(c.entries, token)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
