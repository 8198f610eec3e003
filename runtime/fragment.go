package runtime

import (
	"sync"
	"time"

	"github.com/segmentio/fasthash/fnv1a"
)

// FragmentCache memoizes the rendered output of cache blocks. An entry is
// invalidated by TTL expiry or by a change in the fingerprint of the
// block's vary expressions; either condition alone forces recomputation.
type FragmentCache struct {
	mu         sync.RWMutex
	entries    map[string]*fragmentEntry
	fills      map[string]*fillLock
	coordinate bool
	now        func() time.Time
}

// fillLock serializes concurrent fills of one key. The refs count covers
// the holder and every waiter, so the map entry can be dropped once the
// last of them releases.
type fillLock struct {
	sync.Mutex
	refs int
}

type fragmentEntry struct {
	value       string
	storedAt    time.Time
	ttl         time.Duration
	fingerprint uint64
}

// NewFragmentCache creates a fragment cache. With coordinate set,
// concurrent misses on the same key execute the guarded body exactly
// once; otherwise they fill independently.
func NewFragmentCache(coordinate bool) *FragmentCache {
	return &FragmentCache{
		entries:    make(map[string]*fragmentEntry),
		fills:      make(map[string]*fillLock),
		coordinate: coordinate,
		now:        time.Now,
	}
}

// Fingerprint hashes the live values of a cache block's vary expressions
// into a dependency token.
func Fingerprint(values []interface{}) uint64 {
	h := fnv1a.Init64
	for _, v := range values {
		h = fnv1a.AddString64(h, Stringify(v))
		h = fnv1a.AddString64(h, "\x00")
	}
	return h
}

// Fill returns the live cached value for key, or runs compute and stores
// its result. ttl of zero means no expiry.
func (c *FragmentCache) Fill(key string, fingerprint uint64, ttl time.Duration, compute func() (string, error)) (string, error) {
	if c.coordinate {
		lock := c.acquireFill(key)
		defer c.releaseFill(key, lock)
	}

	if value, ok := c.lookup(key, fingerprint); ok {
		return value, nil
	}

	value, err := compute()
	if err != nil {
		return "", err
	}
	c.store(key, value, ttl, fingerprint)
	return value, nil
}

// lookup returns a stored value if it is neither expired nor invalidated
// by a fingerprint change.
func (c *FragmentCache) lookup(key string, fingerprint uint64) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if entry.fingerprint != fingerprint {
		return "", false
	}
	if entry.ttl > 0 && c.now().Sub(entry.storedAt) >= entry.ttl {
		return "", false
	}
	return entry.value, true
}

func (c *FragmentCache) store(key, value string, ttl time.Duration, fingerprint uint64) {
	c.mu.Lock()
	c.entries[key] = &fragmentEntry{
		value:       value,
		storedAt:    c.now(),
		ttl:         ttl,
		fingerprint: fingerprint,
	}
	c.mu.Unlock()
}

// acquireFill takes the per-key mutex used to coordinate concurrent
// fills, creating it on first use.
func (c *FragmentCache) acquireFill(key string) *fillLock {
	c.mu.Lock()
	lock, ok := c.fills[key]
	if !ok {
		lock = &fillLock{}
		c.fills[key] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.Lock()
	return lock
}

// releaseFill returns the per-key mutex and drops it from the map once
// no holder or waiter remains, so unique keys do not accumulate locks.
func (c *FragmentCache) releaseFill(key string, lock *fillLock) {
	lock.Unlock()

	c.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(c.fills, key)
	}
	c.mu.Unlock()
}

// Invalidate drops one key.
func (c *FragmentCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *FragmentCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*fragmentEntry)
	c.mu.Unlock()
}

// Len reports the number of live entries, counting expired ones that have
// not been touched since expiry.
func (c *FragmentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
