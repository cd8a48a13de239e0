package volume

import (
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"
)

type cacheKey struct {
	session uuid.UUID
	source  string
}

// Cache keeps decoded volumes for the lifetime of a session's selection so
// slider changes do not decode the file again. Entries are scoped to a
// session and dropped when the session picks a new source.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache
	sessions map[uuid.UUID]map[string]struct{}
}

// NewCache creates a cache holding at most maxEntries volumes in total
func NewCache(maxEntries int) *Cache {
	c := &Cache{
		lru:      lru.New(maxEntries),
		sessions: make(map[uuid.UUID]map[string]struct{}),
	}
	c.lru.OnEvicted = func(key lru.Key, _ interface{}) {
		k := key.(cacheKey)
		if keys, ok := c.sessions[k.session]; ok {
			delete(keys, k.source)
			if len(keys) == 0 {
				delete(c.sessions, k.session)
			}
		}
	}
	return c
}

// Get returns a cached volume
func (c *Cache) Get(session uuid.UUID, source string) (*Volume, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(cacheKey{session, source})
	if !ok {
		return nil, false
	}
	return v.(*Volume), true
}

// Put stores a volume under a session
func (c *Cache) Put(session uuid.UUID, source string, v *Volume) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(cacheKey{session, source}, v)
	keys, ok := c.sessions[session]
	if !ok {
		keys = make(map[string]struct{})
		c.sessions[session] = keys
	}
	keys[source] = struct{}{}
}

// GetOrLoad returns the cached volume or calls load and caches its result.
// Failed loads are not cached.
func (c *Cache) GetOrLoad(session uuid.UUID, source string, load func() (*Volume, error)) (*Volume, error) {
	if v, ok := c.Get(session, source); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.Put(session, source, v)
	return v, nil
}

// Invalidate drops every entry of a session
func (c *Cache) Invalidate(session uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for source := range c.sessions[session] {
		c.lru.Remove(cacheKey{session, source})
	}
	delete(c.sessions, session)
}

// Len is the number of cached volumes
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
