package apiclient

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// cacheEntry is a cached GET payload with its storage timestamp.
type cacheEntry struct {
	body     []byte
	storedAt time.Time
}

// responseCache caches successful GET payloads keyed by request key.
// Entries older than the TTL are treated as absent. The cache is capped;
// when the cap is exceeded the oldest entry is evicted first.
type responseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]cacheEntry

	now func() time.Time // test hook
}

func newResponseCache(ttl time.Duration, maxSize int) *responseCache {
	return &responseCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// get returns the cached payload for key, if present and fresh.
func (c *responseCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.body, true
}

// put stores a payload, evicting the oldest entry when over the cap.
func (c *responseCache) put(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{body: body, storedAt: c.now()}
	for len(c.entries) > c.maxSize {
		var oldestKey string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.storedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.storedAt
			}
		}
		delete(c.entries, oldestKey)
	}
}

// invalidate drops every entry whose key starts with prefix. An empty
// prefix drops everything.
func (c *responseCache) invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prefix == "" {
		c.entries = make(map[string]cacheEntry)
		return
	}
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// len returns the number of stored entries, fresh or not.
func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// requestKey derives the dedup/cache key for a request: method, path and
// the sorted query parameters.
func requestKey(method, path string, params map[string]string) string {
	if len(params) == 0 {
		return method + " " + path
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
