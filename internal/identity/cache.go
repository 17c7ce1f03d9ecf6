// Package identity resolves process ids to display names and icon references.
package identity

import (
	"sync"
	"time"
)

// DefaultIcon is returned when the process table has no icon for a pid.
const DefaultIcon = "application-x-executable"

// Identity is the resolved display information for a process.
type Identity struct {
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// Lookup queries the running-process table. found is false when the pid
// does not exist; name and icon may be empty when found.
type Lookup interface {
	Lookup(pid int) (name, icon string, found bool)
}

// LookupFunc adapts a plain function to Lookup.
type LookupFunc func(pid int) (string, string, bool)

// Lookup implements Lookup.
func (f LookupFunc) Lookup(pid int) (string, string, bool) {
	return f(pid)
}

type entry struct {
	identity   Identity
	lastAccess time.Time
}

// Cache memoizes pid lookups. A cached identity is never re-queried, even if
// the pid has since been reused; entries go away only through Prune.
type Cache struct {
	lookup Lookup
	window time.Duration

	mu      sync.Mutex
	entries map[int]*entry
}

// NewCache builds a cache whose Prune drops entries idle for longer than window.
func NewCache(lookup Lookup, window time.Duration) *Cache {
	return &Cache{
		lookup:  lookup,
		window:  window,
		entries: make(map[int]*entry),
	}
}

// Resolve returns the identity for pid, querying the lookup on a miss. now
// stamps the entry's last access and is compared against Prune's clock.
func (c *Cache) Resolve(pid int, fallbackName string, now time.Time) Identity {

	c.mu.Lock()
	if cached, ok := c.entries[pid]; ok {
		cached.lastAccess = now
		id := cached.identity
		c.mu.Unlock()
		return id
	}
	c.mu.Unlock()

	id := Identity{Name: fallbackName, Icon: DefaultIcon}
	if c.lookup != nil {
		if name, icon, found := c.lookup.Lookup(pid); found {
			if name != "" {
				id.Name = name
			}
			id.Icon = icon
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent miss for the same pid may have won the race; keep the first.
	if cached, ok := c.entries[pid]; ok {
		cached.lastAccess = now
		return cached.identity
	}
	c.entries[pid] = &entry{identity: id, lastAccess: now}
	return id
}

// Prune removes entries not accessed within the window and reports how many
// were dropped.
func (c *Cache) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for pid, cached := range c.entries {
		if now.Sub(cached.lastAccess) > c.window {
			delete(c.entries, pid)
			removed++
		}
	}
	return removed
}

// Len reports the number of cached pids.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
