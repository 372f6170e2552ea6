package jwtvalidation

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// AccessTokenCacheConfig bounds the cache size; the eviction sweep cadence
// is set separately by ValidatorConfig.EvictionInterval. The zero value is a valid, enabled configuration: MaxSize defaults to
// 1000. Set Disabled to opt the cache out entirely.
type AccessTokenCacheConfig struct {
	MaxSize  int
	Disabled bool
}

func (c *AccessTokenCacheConfig) applyDefaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = 1000
	}
}

type accessTokenCacheEntry struct {
	rawToken string
	content  AccessTokenContent
}

// AccessTokenCache avoids re-running the full pipeline for a recently
// validated access token. Entries are keyed by SHA-256 of the raw token
// (hex-encoded); the raw token is retained alongside the hash to defeat
// hash collisions on lookup. Eviction is LRU.
type AccessTokenCache struct {
	clock   Clock
	cache   *lru.Cache[string, accessTokenCacheEntry]
	enabled bool
}

// NewAccessTokenCache constructs a cache. A Disabled config makes every
// lookup miss and every store a no-op.
func NewAccessTokenCache(config AccessTokenCacheConfig, clock Clock) *AccessTokenCache {
	if config.Disabled {
		return &AccessTokenCache{clock: clock, enabled: false}
	}
	config.applyDefaults()
	c, _ := lru.New[string, accessTokenCacheEntry](config.MaxSize)
	return &AccessTokenCache{clock: clock, cache: c, enabled: true}
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached content for raw if present and unexpired.
func (c *AccessTokenCache) Lookup(raw string) (AccessTokenContent, bool) {
	if !c.enabled {
		return AccessTokenContent{}, false
	}
	key := hashToken(raw)
	entry, ok := c.cache.Get(key)
	if !ok {
		return AccessTokenContent{}, false
	}
	if entry.rawToken != raw {
		return AccessTokenContent{}, false
	}
	if !entry.content.ExpiresAt().After(c.clock.Now()) {
		c.cache.Remove(key)
		return AccessTokenContent{}, false
	}
	return entry.content, true
}

// Store inserts content under raw's hash. If the cache is at capacity the
// LRU policy evicts the least-recently-used entry.
func (c *AccessTokenCache) Store(raw string, content AccessTokenContent) {
	if !c.enabled {
		return
	}
	c.cache.Add(hashToken(raw), accessTokenCacheEntry{rawToken: raw, content: content})
}

// EvictExpired sweeps every entry and removes those past expiration. This
// runs on the shared Scheduler at a fixed interval rather than on the hot
// path.
func (c *AccessTokenCache) EvictExpired() {
	if !c.enabled {
		return
	}
	now := c.clock.Now()
	for _, key := range c.cache.Keys() {
		entry, ok := c.cache.Peek(key)
		if !ok {
			continue
		}
		if !entry.content.ExpiresAt().After(now) {
			c.cache.Remove(key)
		}
	}
}

// Size returns the current entry count.
func (c *AccessTokenCache) Size() int {
	if !c.enabled {
		return 0
	}
	return c.cache.Len()
}
