package cache

import (
	"fmt"
	"log"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltCache implements Store on top of go.etcd.io/bbolt, generalizing the
// evalgo eve project's bolt.DB helper (bucket-per-class instead of its
// single ad-hoc bucket, plus an LRU eviction index and adaptive TTL layered
// on top).
type BoltCache struct {
	db       *bolt.DB
	maxItems int
	baseTTL  time.Duration
	ttlCfg   adaptiveTTL

	mu    sync.Mutex
	index *lruIndex
	ttls  map[string]ttlEntry

	hits, misses, evictions int64
	ttlSum                  time.Duration
	ttlSamples              int64
}

// Open creates (or reopens) a bbolt-backed cache at path, pre-creating the
// three entity-class buckets so Put/Get never hit a missing-bucket error
// path.
func Open(path string, maxItems int, baseTTL time.Duration) (*BoltCache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, c := range []Class{ClassEpisode, ClassPattern, ClassEmbedding} {
			if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
				return fmt.Errorf("create bucket %s: %w", c, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	if maxItems <= 0 {
		maxItems = 10000
	}
	if baseTTL <= 0 {
		baseTTL = 5 * time.Minute
	}
	return &BoltCache{
		db:       db,
		maxItems: maxItems,
		baseTTL:  baseTTL,
		ttlCfg:   newAdaptiveTTL(baseTTL),
		index:    newLRUIndex(),
		ttls:     make(map[string]ttlEntry),
	}, nil
}

func compositeKey(class Class, id string) string {
	return string(class) + ":" + id
}

// Get returns the cached value for (class, id) if present and unexpired,
// recording a hit or miss and extending the entry's TTL on a hit. Any
// underlying bbolt error is counted as a miss without being logged — a
// cache read never blocks or fails a caller's durable-store fallback.
func (c *BoltCache) Get(class Class, id string) ([]byte, bool) {
	key := compositeKey(class, id)

	c.mu.Lock()
	entry, tracked := c.ttls[key]
	now := time.Now()
	if tracked && entry.expired(now) {
		c.removeLocked(class, id, key)
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	c.mu.Unlock()

	var value []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(class))
		if b == nil {
			return fmt.Errorf("bucket not found: %s", class)
		}
		v := b.Get([]byte(id))
		if v == nil {
			return bolt.ErrBucketNotFound
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	newTTL := c.ttlCfg.extend(entry.ttl)
	c.ttls[key] = ttlEntry{expiresAt: now.Add(newTTL), ttl: newTTL}
	c.index.touch(key, len(value))
	c.hits++
	c.ttlSum += newTTL
	c.ttlSamples++
	c.mu.Unlock()

	return value, true
}

// Put stores value under (class, id), evicting the least-recently-used
// entries if the cache is at capacity. A bbolt write failure is logged and
// swallowed: the durable store remains the source of truth, so a cache
// write failure degrades performance, never correctness.
func (c *BoltCache) Put(class Class, id string, value []byte) error {
	key := compositeKey(class, id)

	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(class))
		if b == nil {
			return fmt.Errorf("bucket not found: %s", class)
		}
		return b.Put([]byte(id), value)
	})
	if err != nil {
		log.Printf("[CACHE] put failed for %s: %v", key, err)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prevTTL := c.baseTTL
	if e, ok := c.ttls[key]; ok {
		prevTTL = c.ttlCfg.decay(e.ttl)
	}
	c.ttls[key] = ttlEntry{expiresAt: time.Now().Add(prevTTL), ttl: prevTTL}
	c.index.touch(key, len(value))

	for c.index.len() > c.maxItems {
		evictKey, ok := c.index.evictOldest()
		if !ok {
			break
		}
		c.evictions++
		delete(c.ttls, evictKey)
		evClass, evID := splitKey(evictKey)
		if evClass == "" {
			continue
		}
		if err := c.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket([]byte(evClass))
			if b == nil {
				return nil
			}
			return b.Delete([]byte(evID))
		}); err != nil {
			log.Printf("[CACHE] eviction delete failed for %s: %v", evictKey, err)
		}
	}
	return nil
}

// Delete removes (class, id) from both bbolt and the in-memory indexes.
func (c *BoltCache) Delete(class Class, id string) error {
	key := compositeKey(class, id)
	c.mu.Lock()
	c.removeLocked(class, id, key)
	c.mu.Unlock()

	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(class))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
	if err != nil {
		log.Printf("[CACHE] delete failed for %s: %v", key, err)
	}
	return nil
}

func (c *BoltCache) removeLocked(_ Class, _ string, key string) {
	c.index.remove(key)
	delete(c.ttls, key)
}

// Stats returns the current hit/miss/eviction counters and the running
// average TTL across every hit-extended entry.
func (c *BoltCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var avg time.Duration
	if c.ttlSamples > 0 {
		avg = c.ttlSum / time.Duration(c.ttlSamples)
	}
	return Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions, AvgTTL: avg}
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}

func splitKey(key string) (Class, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return Class(key[:i]), key[i+1:]
		}
	}
	return "", ""
}
