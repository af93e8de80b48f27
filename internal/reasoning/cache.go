package reasoning

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache is an in-process TTL cache for reasoning responses, keyed by a
// hash of the prompt. Identical analysis requests within the TTL are
// served without spending gateway budget.
type Cache struct {
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

// NewCache creates a cache bounded to maxCostBytes of stored responses.
func NewCache(maxCostBytes int64, ttl time.Duration) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, ttl: ttl}, nil
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Get returns a cached response for the prompt, if present.
func (c *Cache) Get(prompt string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.c.Get(cacheKey(prompt))
}

// Set stores a response for the prompt.
func (c *Cache) Set(prompt string, response []byte) {
	if c == nil {
		return
	}
	c.c.SetWithTTL(cacheKey(prompt), response, int64(len(response)), c.ttl)
}

// Wait blocks until buffered writes have been applied.
func (c *Cache) Wait() {
	if c != nil {
		c.c.Wait()
	}
}

// Close releases cache resources.
func (c *Cache) Close() {
	if c != nil {
		c.c.Close()
	}
}
