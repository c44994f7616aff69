package retry

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache records proxy endpoints known to reject remote name resolution.
// Implementations must be safe for concurrent use.
type Cache interface {
	LocalDNSOnly(endpoint string) bool
	MarkLocalDNSOnly(endpoint string)
}

type memCache struct {
	c   *gocache.Cache
	ttl time.Duration
}

// NewCache returns a Cache backed by go-cache. A ttl <= 0 keeps entries for
// the life of the process.
func NewCache(ttl time.Duration) Cache {
	if ttl <= 0 {
		return &memCache{c: gocache.New(gocache.NoExpiration, 0), ttl: gocache.NoExpiration}
	}
	return &memCache{c: gocache.New(ttl, 2*ttl), ttl: ttl}
}

func (m *memCache) LocalDNSOnly(endpoint string) bool {
	_, ok := m.c.Get(endpoint)
	return ok
}

func (m *memCache) MarkLocalDNSOnly(endpoint string) {
	m.c.Set(endpoint, struct{}{}, m.ttl)
}
