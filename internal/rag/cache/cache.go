// Package cache implements the RAG result cache (§3 Cache entry, §4.I
// step 2/7): an in-process LRU with TTL expiry, with an optional Redis
// backend for sharing the cache across service instances.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ragchat/internal/observability"
	"ragchat/internal/retrieval"
)

const (
	DefaultMaxSize = 1000
	DefaultTTL     = 10 * time.Minute
)

// Entry is one cached RAG result, keyed by Key.
type Entry struct {
	Query   string
	Results []retrieval.Result
}

// Key canonicalizes (query, strategy, sources) into a stable cache key:
// lowercased/trimmed query, sorted and deduped source identifiers, so
// ["a","b"] and ["b","a","a"] hash identically (§9 open question).
func Key(query, strategy string, sources []string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))

	uniq := make(map[string]bool, len(sources))
	var cleaned []string
	for _, s := range sources {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || uniq[s] {
			continue
		}
		uniq[s] = true
		cleaned = append(cleaned, s)
	}
	sort.Strings(cleaned)

	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(strategy))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(cleaned, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

type localEntry struct {
	value      Entry
	expiration time.Time
	lastAccess time.Time
}

// Config tunes the Cache.
type Config struct {
	MaxSize int
	TTL     time.Duration
	// RedisAddr, if set, backs the cache with Redis instead of the
	// in-process map; the in-process map still serves as a local L1.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	return c
}

// Cache is a thread-safe LRU+TTL cache for RAG results, optionally
// backed by Redis. The zero value is not usable; construct via New.
type Cache struct {
	cfg     Config
	mu      sync.Mutex
	local   map[string]localEntry
	redis   redis.UniversalClient
}

// New constructs a Cache. When cfg.RedisAddr is empty, the cache is
// purely in-process.
func New(cfg Config) *Cache {
	cfg = cfg.withDefaults()
	c := &Cache{cfg: cfg, local: make(map[string]localEntry)}
	if cfg.RedisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	}
	return c
}

// Get returns the cached entry for key, if present and unexpired.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	if e, ok := c.getLocal(key); ok {
		return e, true
	}
	if c.redis == nil {
		return Entry{}, false
	}

	val, err := c.redis.Get(ctx, redisKey(key)).Result()
	if err != nil {
		if err != redis.Nil {
			observability.LoggerWithTrace(ctx).Debug().Err(err).Str("key", key).Msg("rag_cache_redis_get_error")
		}
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		observability.LoggerWithTrace(ctx).Debug().Err(err).Msg("rag_cache_redis_unmarshal_error")
		return Entry{}, false
	}
	c.setLocal(key, e)
	return e, true
}

// Set stores an entry under key with the cache's configured TTL.
func (c *Cache) Set(ctx context.Context, key string, entry Entry) {
	c.setLocal(key, entry)
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, redisKey(key), data, c.cfg.TTL).Err(); err != nil {
		observability.LoggerWithTrace(ctx).Debug().Err(err).Str("key", key).Msg("rag_cache_redis_set_error")
	}
}

func (c *Cache) getLocal(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.local[key]
	if !ok {
		return Entry{}, false
	}
	if time.Now().After(e.expiration) {
		delete(c.local, key)
		return Entry{}, false
	}
	e.lastAccess = time.Now()
	c.local[key] = e
	return e.value, true
}

func (c *Cache) setLocal(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.local) >= c.cfg.MaxSize {
		c.evictOldestLocked()
	}
	now := time.Now()
	c.local[key] = localEntry{value: entry, expiration: now.Add(c.cfg.TTL), lastAccess: now}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for key, e := range c.local {
		if first || e.lastAccess.Before(oldestTime) {
			oldestKey, oldestTime, first = key, e.lastAccess, false
		}
	}
	if oldestKey != "" {
		delete(c.local, oldestKey)
	}
}

// Close releases the Redis connection, if any.
func (c *Cache) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

func redisKey(key string) string { return "rag:cache:" + key }
