// Package toolcache memoizes the remote tool catalog for a bounded window so
// repeated listing requests do not each cost a remote round trip.
package toolcache

import (
	"context"
	"sync"
	"time"

	"github.com/pocketmcp/pocketmcp-bridge/internal/logx"
	"github.com/pocketmcp/pocketmcp-bridge/internal/metrics"
	"github.com/pocketmcp/pocketmcp-bridge/internal/session"
)

// DefaultTTL bounds cache freshness when no TTL is configured.
const DefaultTTL = 30 * time.Second

// FetchFunc performs a live catalog fetch.
type FetchFunc func(ctx context.Context) ([]session.Tool, error)

type entry struct {
	tools     []session.Tool
	fetchedAt time.Time
}

// Cache holds at most one catalog entry, replaced wholesale on refresh and
// never merged.
type Cache struct {
	fetch    FetchFunc
	ttl      time.Duration
	disabled bool
	now      func() time.Time

	mu    sync.Mutex
	entry *entry
}

// New builds a cache over the given fetch function. A non-positive ttl gets
// DefaultTTL; disabled caches fetch live on every listing.
func New(fetch FetchFunc, ttl time.Duration, disabled bool) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{fetch: fetch, ttl: ttl, disabled: disabled, now: time.Now}
}

// List returns the cached catalog while it is fresh, otherwise fetches a new
// one and replaces the entry. forceRefresh always bypasses the freshness
// check.
func (c *Cache) List(ctx context.Context, forceRefresh bool) ([]session.Tool, error) {
	c.mu.Lock()
	if !forceRefresh && !c.disabled && c.entry != nil && c.now().Sub(c.entry.fetchedAt) <= c.ttl {
		tools := c.entry.tools
		c.mu.Unlock()
		return tools, nil
	}
	c.mu.Unlock()

	reason := "expired"
	if forceRefresh {
		reason = "forced"
	}
	metrics.CacheRefreshObserved(reason)
	tools, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	logx.Log.Debug().Int("tools", len(tools)).Str("reason", reason).Msg("tool catalog refreshed")
	c.mu.Lock()
	c.entry = &entry{tools: tools, fetchedAt: c.now()}
	c.mu.Unlock()
	return tools, nil
}

// Has reports whether the current entry, fresh or not, knows the named tool.
// It never triggers a fetch; callers decide whether a miss warrants one.
func (c *Cache) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return false
	}
	for _, t := range c.entry.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Len returns the size of the current entry for status reporting.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return 0
	}
	return len(c.entry.tools)
}
