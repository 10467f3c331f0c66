// Package session tracks the users the background refresher serves and
// caches the jobs and targets last fetched for each of them.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/HatiCode/jobadvisor/pkg/recommend"
	"github.com/HatiCode/jobadvisor/pkg/source"
)

type entry struct {
	lastSeen  time.Time
	jobs      []source.JobUpdate
	targets   []recommend.TargetStatus
	refreshed time.Time
}

// Cache is safe for concurrent use. All getters return copies.
type Cache struct {
	mu    sync.RWMutex
	users map[string]*entry
	now   func() time.Time
}

// NewCache creates an empty cache. A nil now uses time.Now.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{users: make(map[string]*entry), now: now}
}

// Touch starts tracking userID or refreshes its last-seen time.
func (c *Cache) Touch(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.get(userID).lastSeen = c.now()
}

// Users returns the tracked users sorted by id.
func (c *Cache) Users() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.users))
	for id := range c.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked users.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}

// SetJobs caches the user's jobs. It also tracks the user.
func (c *Cache) SetJobs(userID string, jobs []source.JobUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(userID)
	e.jobs = append([]source.JobUpdate(nil), jobs...)
	e.refreshed = c.now()
}

// Jobs returns the cached jobs and whether any were cached.
func (c *Cache) Jobs(userID string) ([]source.JobUpdate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.users[userID]
	if !ok || e.jobs == nil {
		return nil, false
	}
	return append([]source.JobUpdate(nil), e.jobs...), true
}

// SetTargets caches the user's target statuses. It also tracks the user.
func (c *Cache) SetTargets(userID string, targets []recommend.TargetStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(userID)
	e.targets = append([]recommend.TargetStatus(nil), targets...)
	e.refreshed = c.now()
}

// Targets returns the cached target statuses and whether any were cached.
func (c *Cache) Targets(userID string) ([]recommend.TargetStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.users[userID]
	if !ok || e.targets == nil {
		return nil, false
	}
	return append([]recommend.TargetStatus(nil), e.targets...), true
}

// LastRefresh returns when the user's data was last cached.
func (c *Cache) LastRefresh(userID string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.users[userID]
	if !ok || e.refreshed.IsZero() {
		return time.Time{}, false
	}
	return e.refreshed, true
}

// Forget stops tracking userID and drops its cached data.
func (c *Cache) Forget(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, userID)
}

// Expire forgets users not touched within ttl and returns how many were removed.
func (c *Cache) Expire(ttl time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-ttl)
	removed := 0
	for id, e := range c.users {
		if e.lastSeen.Before(cutoff) {
			delete(c.users, id)
			removed++
		}
	}
	return removed
}

// get must be called with c.mu held for writing.
func (c *Cache) get(userID string) *entry {
	e, ok := c.users[userID]
	if !ok {
		e = &entry{lastSeen: c.now()}
		c.users[userID] = e
	}
	return e
}
