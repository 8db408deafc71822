// Package cache implements the response cache: a content-addressed,
// TTL-bounded key/value store with interchangeable memory and Redis
// backends, following the teacher's db/repository cache pattern for the
// Redis side and the sorted-key-JSON key derivation of the original
// cache decorator.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Namespace groups cache entries for bulk invalidation and default TTL
// selection.
type Namespace string

const (
	NamespaceAuditResult    Namespace = "audit_result"
	NamespaceStandards      Namespace = "standards"
	NamespaceLLMResponse    Namespace = "llm_response"
	NamespaceProjectConfig  Namespace = "project_config"
	NamespaceStatistics     Namespace = "statistics"
	NamespaceHealthProbe    Namespace = "health_probe"
)

// DefaultTTL returns the namespace's default time-to-live.
func DefaultTTL(ns Namespace) time.Duration {
	switch ns {
	case NamespaceAuditResult:
		return time.Hour
	case NamespaceStandards:
		return 24 * time.Hour
	case NamespaceLLMResponse:
		return 2 * time.Hour
	case NamespaceProjectConfig:
		return 30 * time.Minute
	case NamespaceStatistics:
		return 5 * time.Minute
	case NamespaceHealthProbe:
		return 30 * time.Second
	default:
		return time.Hour
	}
}

// Stats tracks cumulative hit/miss/error counters for a cache instance.
type Stats struct {
	mu     sync.Mutex
	Hits   int64
	Misses int64
	Errors int64
}

func (s *Stats) hit()   { s.mu.Lock(); s.Hits++; s.mu.Unlock() }
func (s *Stats) miss()  { s.mu.Lock(); s.Misses++; s.mu.Unlock() }
func (s *Stats) errs()  { s.mu.Lock(); s.Errors++; s.mu.Unlock() }

// HitRate returns hits / (hits + misses), 0 when no lookups occurred yet.
func (s *Stats) HitRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Hits, s.Misses, s.Errors = 0, 0, 0
}

// Snapshot is a point-in-time copy of Stats safe to serialize.
type Snapshot struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.Hits + s.Misses
	rate := 0.0
	if total > 0 {
		rate = float64(s.Hits) / float64(total)
	}
	return Snapshot{Hits: s.Hits, Misses: s.Misses, Errors: s.Errors, HitRate: rate}
}

// Key derives a content-addressed cache key from a prompt/model/temperature
// triple plus arbitrary extra fields, as the SHA-256 hex digest of the
// canonical (sorted-key) JSON encoding of those fields.
func Key(prompt, model string, temperature float64, extras map[string]interface{}) string {
	data := make(map[string]interface{}, len(extras)+3)
	for k, v := range extras {
		data[k] = v
	}
	data["prompt"] = prompt
	data["model"] = model
	data["temperature"] = temperature

	canonical := canonicalJSON(data)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON encodes v as JSON with map keys sorted, matching the
// behavior of json.dumps(..., sort_keys=True).
func canonicalJSON(data map[string]interface{}) []byte {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(data[k])
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf
}

// Cache is the response cache's public surface, backed by either an
// in-process LRU or Redis.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	ClearNamespace(ctx context.Context, ns Namespace) error
	Stats() Snapshot
}

// memEntry is one in-memory cache record.
type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is a bounded, TTL-aware, LRU-evicting in-process cache,
// mirroring the original decorator's memory backend: expiry is checked at
// read time and eviction removes the least-recently-used key.
type MemoryCache struct {
	mu          sync.Mutex
	maxSize     int
	entries     map[string]memEntry
	accessOrder []string
	stats       Stats
}

func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryCache{
		maxSize: maxSize,
		entries: make(map[string]memEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.stats.miss()
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.stats.miss()
		return nil, false, nil
	}

	c.touch(key)
	c.stats.hit()
	return entry.data, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = memEntry{data: value, expiresAt: time.Now().Add(ttl)}
	c.touch(key)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.removeFromOrder(key)
	return nil
}

// ClearNamespace removes every entry whose key carries the namespace prefix
// produced by NamespacedKey, mirroring RedisCache.ClearNamespace's prefix
// scan since Set's production callers, CacheSink and the batch dispatcher,
// always write NamespacedKey-formatted keys.
func (c *MemoryCache) ClearNamespace(_ context.Context, ns Namespace) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := string(ns) + ":"
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			c.removeFromOrder(k)
		}
	}
	return nil
}

func (c *MemoryCache) Stats() Snapshot { return c.stats.Snapshot() }

// touch moves key to the end of accessOrder (most recently used), inserting
// it if absent. Caller must hold c.mu.
func (c *MemoryCache) touch(key string) {
	c.removeFromOrder(key)
	c.accessOrder = append(c.accessOrder, key)
}

// removeFromOrder deletes key from accessOrder if present. Caller must hold
// c.mu.
func (c *MemoryCache) removeFromOrder(key string) {
	for i, k := range c.accessOrder {
		if k == key {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			return
		}
	}
}

// evictOldest removes the least-recently-used entry. Caller must hold c.mu.
func (c *MemoryCache) evictOldest() {
	if len(c.accessOrder) == 0 {
		return
	}
	oldest := c.accessOrder[0]
	c.accessOrder = c.accessOrder[1:]
	delete(c.entries, oldest)
}

// RedisCache delegates storage to Redis, enforcing TTL via SETEX and
// prefixing keys the way the repository layer prefixes "cache:" keys.
type RedisCache struct {
	client *redis.Client
	prefix string
	stats  Stats
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "llmcache:"}
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		c.stats.miss()
		return nil, false, nil
	}
	if err != nil {
		c.stats.errs()
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	c.stats.hit()
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		c.stats.errs()
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.stats.errs()
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// ClearNamespace scans and deletes all keys tagged with the namespace
// prefix. Redis has no LRU namespace index, so namespaced keys are stored
// with an embedded namespace segment and scanned by pattern.
func (c *RedisCache) ClearNamespace(ctx context.Context, ns Namespace) error {
	pattern := c.prefix + string(ns) + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.stats.errs()
			return fmt.Errorf("cache clear namespace: %w", err)
		}
	}
	return iter.Err()
}

func (c *RedisCache) Stats() Snapshot { return c.stats.Snapshot() }

// NamespacedKey composes a namespace-qualified key for Redis-backed storage
// so ClearNamespace can scan by prefix.
func NamespacedKey(ns Namespace, key string) string {
	return string(ns) + ":" + key
}
