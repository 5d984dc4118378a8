// Package statuscache remembers, for a short while, whether an address could
// be discovered. Callers use it to avoid hammering devices that just failed.
package statuscache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSize is the number of addresses kept when no size is configured.
const DefaultSize = 4096

// DefaultTTL is how long a status is remembered when no TTL is given.
const DefaultTTL = 15 * time.Second

type entry struct {
	discoverable bool
	expires      time.Time
}

// Cache is a bounded, expiring map from IP address to discoverability.
// It is safe for concurrent use.
type Cache struct {
	lru    *expirable.LRU[string, entry]
	maxTTL time.Duration
	now    func() time.Time

	mu           sync.Mutex
	hits, misses uint64
}

// New creates a cache holding at most size addresses. maxTTL bounds every
// entry's lifetime; individual entries may expire sooner.
func New(size int, maxTTL time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if maxTTL <= 0 {
		maxTTL = DefaultTTL
	}
	return &Cache{
		lru:    expirable.NewLRU[string, entry](size, nil, maxTTL),
		maxTTL: maxTTL,
		now:    time.Now,
	}
}

// Put records whether ip was discoverable. A non-positive ttl uses the
// cache maximum.
func (c *Cache) Put(ip string, discoverable bool, ttl time.Duration) {
	if ttl <= 0 || ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	c.lru.Add(ip, entry{discoverable: discoverable, expires: c.now().Add(ttl)})
}

// Get returns the remembered status of ip. ok is false when nothing is
// known or the entry expired.
func (c *Cache) Get(ip string) (discoverable, ok bool) {
	e, found := c.lru.Get(ip)
	if found && c.now().After(e.expires) {
		c.lru.Remove(ip)
		found = false
	}

	c.mu.Lock()
	if found {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if !found {
		return false, false
	}
	return e.discoverable, true
}

// IsUndiscoverable reports whether ip recently failed discovery.
func (c *Cache) IsUndiscoverable(ip string) bool {
	discoverable, ok := c.Get(ip)
	return ok && !discoverable
}

// Forget drops whatever is known about ip.
func (c *Cache) Forget(ip string) {
	c.lru.Remove(ip)
}

// Len returns the number of addresses held, including ones not yet purged.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Stats returns lookup hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
