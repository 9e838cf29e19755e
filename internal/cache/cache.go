// Package cache implements the advisory caching layer of spec §6, a
// two-tier design grounded on the teacher's common.Cache (hashicorp/
// golang-lru local tier, common/cache.go) fronting a shared go-redis
// remote tier, used by the Safety Controller to memoize signature
// verification results.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/go-redis/redis/v7"

	"github.com/chainbridge-x/engine/internal/klog"
)

var logger = klog.NewModuleLogger(klog.ModuleCache)

// Cache is the get/set/invalidate-by-tag interface of spec §6. All
// methods are advisory: callers must tolerate a miss or an error as if
// the cache were simply cold.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string)
	InvalidateTag(ctx context.Context, tag string)
	Close() error
}

type entry struct {
	value   []byte
	expires time.Time
}

// TwoTier is a local hashicorp/golang-lru cache fronting an optional
// go-redis remote tier (mirrors the teacher's local lruCache wrapped with
// a size/shard policy, generalized here with a remote fallback tier and
// TTL since common.Cache itself has none).
type TwoTier struct {
	mu    sync.Mutex
	local *lru.Cache
	tags  map[string]map[string]bool

	remote *redis.Client // nil disables the remote tier
}

// New builds a TwoTier cache. remote may be nil to run local-only (e.g.
// in tests via memadapter-style setups).
func New(localSize int, remote *redis.Client) (*TwoTier, error) {
	l, err := lru.New(localSize)
	if err != nil {
		return nil, err
	}
	return &TwoTier{local: l, tags: make(map[string]map[string]bool), remote: remote}, nil
}

func (c *TwoTier) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	if v, ok := c.local.Get(key); ok {
		e := v.(entry)
		if time.Now().Before(e.expires) {
			c.mu.Unlock()
			return e.value, true
		}
		c.local.Remove(key)
	}
	c.mu.Unlock()

	if c.remote == nil {
		return nil, false
	}
	b, err := c.remote.Get(key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("remote cache get failed", "key", key, "err", err)
		}
		return nil, false
	}
	var w wireEntry
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, false
	}
	return w.Value, true
}

type wireEntry struct {
	Value []byte `json:"value"`
}

func (c *TwoTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) {
	c.mu.Lock()
	c.local.Add(key, entry{value: value, expires: time.Now().Add(ttl)})
	for _, tag := range tags {
		if c.tags[tag] == nil {
			c.tags[tag] = make(map[string]bool)
		}
		c.tags[tag][key] = true
	}
	c.mu.Unlock()

	if c.remote == nil {
		return
	}
	b, err := json.Marshal(wireEntry{Value: value})
	if err != nil {
		return
	}
	if err := c.remote.Set(key, b, ttl).Err(); err != nil {
		logger.Warn("remote cache set failed", "key", key, "err", err)
	}
}

func (c *TwoTier) InvalidateTag(ctx context.Context, tag string) {
	c.mu.Lock()
	keys := c.tags[tag]
	delete(c.tags, tag)
	c.mu.Unlock()

	for key := range keys {
		c.mu.Lock()
		c.local.Remove(key)
		c.mu.Unlock()
		if c.remote != nil {
			if err := c.remote.Del(key).Err(); err != nil {
				logger.Warn("remote cache invalidate failed", "key", key, "err", err)
			}
		}
	}
}

func (c *TwoTier) Close() error {
	if c.remote == nil {
		return nil
	}
	return c.remote.Close()
}

var _ Cache = (*TwoTier)(nil)
