// Package cache provides the process-wide event cache: an in-memory map with
// a fixed TTL, write-through to a durable mirror, and a clear signal that
// sibling caches sharing the same mirror observe.
package cache

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openchapel/events/internal/metrics"
)

// TTL is the fixed entry lifetime. No per-key override is exposed.
const TTL = 30 * time.Minute

// clearSignalKey is the mirror key used to broadcast Clear to sibling
// caches. Its value is the epoch-ms at which the clear happened;
// last write wins under rapid repeated clears.
const clearSignalKey = "clearCache"

// item is the persisted envelope for one cache entry.
type item struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // epoch-ms
}

// Cache is a TTL key-value cache. Construct one per process with New and
// inject it; there is no package-level instance.
type Cache struct {
	mu        sync.Mutex
	mirror    Mirror
	log       *zap.Logger
	now       func() time.Time
	entries   map[string]item
	clearSeen int64
}

// New creates a Cache over the given mirror. The mirror must not be nil;
// use NewMapMirror for a purely in-memory cache.
func New(mirror Mirror, log *zap.Logger) *Cache {
	return &Cache{
		mirror:  mirror,
		log:     log,
		now:     time.Now,
		entries: make(map[string]item),
	}
}

// SetClock overrides the cache's time source. Tests only.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Set stores v under key, tagged with the current timestamp. Mirror write
// failures are logged and swallowed: the cache keeps serving from memory.
func (c *Cache) Set(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache: value not serializable, memory only", zap.String("key", key), zap.Error(err))
		data = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.observeClearLocked()

	it := item{Data: data, Timestamp: c.now().UnixMilli()}
	c.entries[key] = it

	if data == nil {
		return
	}
	buf, err := json.Marshal(it)
	if err == nil {
		err = c.mirror.Set(key, buf)
	}
	if err != nil {
		c.log.Warn("cache: mirror write failed", zap.String("key", key), zap.Error(err))
	}
}

// Get loads the value stored under key into dst and reports whether a live
// entry was found. Expired or undecodable entries are evicted.
func (c *Cache) Get(key string, dst any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observeClearLocked()

	it, ok := c.entries[key]
	if !ok {
		// Hydrate from the mirror, re-populating memory.
		buf, found := c.mirror.Get(key)
		if !found {
			metrics.CacheMiss()
			return false
		}
		if err := json.Unmarshal(buf, &it); err != nil {
			c.log.Warn("cache: undecodable mirror entry", zap.String("key", key), zap.Error(err))
			c.mirror.Delete(key)
			metrics.CacheMiss()
			return false
		}
		c.entries[key] = it
	}

	if c.now().UnixMilli()-it.Timestamp > TTL.Milliseconds() {
		delete(c.entries, key)
		c.mirror.Delete(key)
		metrics.CacheEviction()
		metrics.CacheMiss()
		return false
	}

	if err := json.Unmarshal(it.Data, dst); err != nil {
		delete(c.entries, key)
		c.mirror.Delete(key)
		metrics.CacheMiss()
		return false
	}
	metrics.CacheHit()
	return true
}

// Delete evicts a single key from memory and the mirror.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.mirror.Delete(key)
}

// Clear wipes memory and the mirror for the whole process and broadcasts
// the clear to sibling caches via the signal key.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]item)
	if err := c.mirror.Clear(); err != nil {
		c.log.Warn("cache: mirror clear failed", zap.Error(err))
	}

	ts := c.now().UnixMilli()
	if err := c.mirror.Set(clearSignalKey, []byte(strconv.FormatInt(ts, 10))); err != nil {
		c.log.Warn("cache: clear signal write failed", zap.Error(err))
	}
	c.clearSeen = ts
}

// observeClearLocked drops the memory map when a sibling cache has written
// a newer clear signal. Checked lazily on every operation; there is no
// background watcher.
func (c *Cache) observeClearLocked() {
	buf, ok := c.mirror.Get(clearSignalKey)
	if !ok {
		return
	}
	ts, err := strconv.ParseInt(string(buf), 10, 64)
	if err != nil {
		return
	}
	if ts > c.clearSeen {
		c.entries = make(map[string]item)
		c.clearSeen = ts
	}
}
