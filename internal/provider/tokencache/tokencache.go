// Package tokencache provides a small in-process, per-run cache for bearer
// tokens obtained from an authenticate-then-call provider (bws,
// infisical). Tokens are never persisted to disk — they live only as long
// as the locket process does.
package tokencache

import (
	"sync"
	"time"
)

// Cache stores a single bearer token with automatic expiration.
type Cache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// New creates an empty token cache.
func New() *Cache {
	return &Cache{}
}

// renewBuffer is subtracted from a token's TTL so callers renew slightly
// before the upstream deadline rather than racing it.
const renewBuffer = 5 * time.Second

// Get returns the cached token and true if it exists and has not expired.
func (c *Cache) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || time.Now().After(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

// Set stores token with the given TTL, shortened by renewBuffer.
func (c *Cache) Set(token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	if ttl > renewBuffer {
		ttl -= renewBuffer
	}
	c.expiresAt = time.Now().Add(ttl)
}

// Clear discards the cached token.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}
