// Package cache implements the TTL policy layer over pkg/watchpost/storage:
// Get with an atomic "grace read" of an expired entry, Store that stamps
// added_at, and a memoize helper keyed by a rendered key template (spec
// §4.2).
package cache

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/watchpost/watchpost/pkg/watchpost/metrics"
	"github.com/watchpost/watchpost/pkg/watchpost/storage"
)

const shardCount = 64

// Cache wraps a Storage back-end with TTL semantics. The grace-read
// critical section is sharded by key hash so that unrelated keys never
// contend on the same mutex (spec §5: "a shard of mutexes keyed by hash is
// acceptable").
type Cache struct {
	store  storage.Storage
	shards [shardCount]sync.Mutex
	now    func() time.Time
}

// New wraps store with TTL/grace-read policy.
func New(store storage.Storage) *Cache {
	return &Cache{store: store, now: time.Now}
}

func (c *Cache) shardFor(key string) *sync.Mutex {
	sum := sha256.Sum256([]byte(key))
	idx := int(sum[0]) % shardCount
	return &c.shards[idx]
}

// Get retrieves the entry stored under key.
//
// allowExpired=true returns any entry present regardless of expiry, without
// consuming it — used by the scheduling SKIP path to serve a possibly-stale
// cached result indefinitely (spec §4.6 step 2).
//
// allowExpired=false is the normal path: a live entry is returned as-is; an
// expired entry is returned exactly once (the "grace read") and then
// deleted, so every subsequent caller observes a miss. The grace read is
// made atomic by holding this key's shard mutex across the
// check-then-delete sequence: only the caller that wins the mutex and finds
// the entry still present gets it; a racing caller either blocks until the
// winner has deleted it (and then misses) or never finds the entry at all.
func (c *Cache) Get(key string, allowExpired bool) (storage.Entry, bool) {
	if allowExpired {
		entry, ok := c.store.Get(key)
		if ok {
			metrics.RecordCacheHit()
		} else {
			metrics.RecordCacheMiss()
		}
		return entry, ok
	}

	now := c.now()
	entry, ok := c.store.Get(key)
	if !ok {
		metrics.RecordCacheMiss()
		return storage.Entry{}, false
	}
	if !entry.Expired(now) {
		metrics.RecordCacheHit()
		return entry, true
	}

	mu := c.shardFor(key)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock: another goroutine may have already consumed
	// the grace read and deleted the entry between our first Get and here.
	entry, ok = c.store.Get(key)
	if !ok {
		metrics.RecordCacheMiss()
		return storage.Entry{}, false
	}
	if !entry.Expired(now) {
		metrics.RecordCacheHit()
		return entry, true
	}
	_ = c.store.Delete(key)
	metrics.RecordCacheGraceRead()
	return entry, true
}

// Store writes value under key with added_at stamped to now.
func (c *Cache) Store(key string, value []byte, ttl time.Duration) error {
	metrics.RecordCacheStore()
	return c.store.Store(key, value, c.now(), ttl)
}
