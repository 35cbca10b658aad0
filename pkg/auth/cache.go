package auth

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// PrincipalCache memoizes a resolved Principal for the remaining
// lifetime of its bearer token, keyed by the token's signature bytes,
// capped at 5 minutes regardless of the token's own expiry (spec.md
// §4.2 caching).
type PrincipalCache struct {
	cache *gocache.Cache
	max   time.Duration
}

// NewPrincipalCache builds a cache with the given maximum TTL.
func NewPrincipalCache(maxTTL time.Duration) *PrincipalCache {
	return &PrincipalCache{cache: gocache.New(maxTTL, 2*maxTTL), max: maxTTL}
}

// Get returns the cached Principal for key, if present and unexpired.
func (c *PrincipalCache) Get(key string) (Principal, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return Principal{}, false
	}
	return v.(Principal), true
}

// Set caches p under key until min(remaining, max).
func (c *PrincipalCache) Set(key string, p Principal, remaining time.Duration) {
	ttl := remaining
	if ttl <= 0 || ttl > c.max {
		ttl = c.max
	}
	c.cache.Set(key, p, ttl)
}
