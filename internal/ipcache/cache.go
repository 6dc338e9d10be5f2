// Package ipcache remembers the last address seen for each domain so that a
// response without one can still be attributed.
package ipcache

import (
	"time"

	"github.com/decred/dcrd/container/lru"

	"github.com/dgnsrekt/ipvwatch/internal/storage"
)

// DefaultLimit is the number of domains kept.
const DefaultLimit = 1024

// Saver persists cache entries.
type Saver interface {
	Save(key string, v any)
	Remove(key string)
}

type entry struct {
	addr string
	seen time.Time
}

// Cache is a bounded domain -> address map. Entries evicted from memory are
// also removed from the saver. Callers serialize access.
type Cache struct {
	limit uint32
	m     *lru.Map[string, entry]
	saver Saver
	now   func() time.Time

	// persisted holds the domains the saver has a record for. Evicted
	// domains are removed from it in batches of pruneEvery evictions.
	persisted  map[string]struct{}
	evicted    uint32
	pruneEvery uint32
}

// New returns an empty cache. A nil saver keeps the cache in memory only.
func New(limit uint32, saver Saver) *Cache {
	if limit == 0 {
		limit = DefaultLimit
	}
	return &Cache{
		limit:      limit,
		m:          lru.NewMap[string, entry](limit),
		saver:      saver,
		now:        time.Now,
		persisted:  make(map[string]struct{}),
		pruneEvery: max(1, limit/16),
	}
}

// Lookup returns the cached address for domain.
func (c *Cache) Lookup(domain string) (string, bool) {
	e, ok := c.m.Get(domain)
	if !ok {
		return "", false
	}
	return e.addr, true
}

// Remember stores addr as the latest address of domain.
func (c *Cache) Remember(domain, addr string) {
	if addr == "" {
		return
	}
	now := c.now()
	c.put(domain, entry{addr: addr, seen: now})
	if c.saver != nil {
		c.persisted[domain] = struct{}{}
		c.saver.Save(storage.AddrKey(domain), storage.AddrRecord{
			Version: storage.SchemaVersion,
			Domain:  domain,
			Addr:    addr,
			Time:    now.UnixNano(),
		})
	}
}

func (c *Cache) put(domain string, e entry) {
	n := c.m.Put(domain, e)
	if n == 0 || c.saver == nil {
		return
	}
	c.evicted += n
	if c.evicted >= c.pruneEvery {
		c.prune()
	}
}

// prune removes the saved records of domains no longer in memory.
func (c *Cache) prune() {
	c.evicted = 0
	for domain := range c.persisted {
		if !c.m.Exists(domain) {
			delete(c.persisted, domain)
			c.saver.Remove(storage.AddrKey(domain))
		}
	}
}

// Load fills the cache from persisted records, oldest first, so the most
// recently seen domains survive when there are more records than room.
func (c *Cache) Load(records []storage.AddrRecord) {
	for _, rec := range records {
		if rec.Addr == "" {
			continue
		}
		if c.saver != nil {
			c.persisted[rec.Domain] = struct{}{}
		}
		c.put(rec.Domain, entry{addr: rec.Addr, seen: time.Unix(0, rec.Time)})
	}
}

// Len returns the number of cached domains.
func (c *Cache) Len() int { return int(c.m.Len()) }
