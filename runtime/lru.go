package runtime

import (
	"container/list"
	"sync"
)

// templateCache is an LRU cache of parsed templates keyed by name. Each
// entry remembers the loader version token it was built from; reload-mode
// environments compare tokens before trusting a hit.
type templateCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

type templateCacheEntry struct {
	name     string
	template *Template
	version  string
}

func newTemplateCache(capacity int) *templateCache {
	if capacity <= 0 {
		capacity = 128
	}
	return &templateCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// get returns the cached template and its version token, refreshing the
// entry's recency.
func (c *templateCache) get(name string) (*Template, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[name]
	if !ok {
		return nil, "", false
	}
	c.order.MoveToFront(elem)
	entry := elem.Value.(*templateCacheEntry)
	return entry.template, entry.version, true
}

// put stores a template, evicting the least recently used entry when the
// cache is full.
func (c *templateCache) put(name string, template *Template, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[name]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*templateCacheEntry)
		entry.template = template
		entry.version = version
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*templateCacheEntry).name)
		}
	}
	c.entries[name] = c.order.PushFront(&templateCacheEntry{name: name, template: template, version: version})
}

// remove drops one entry.
func (c *templateCache) remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[name]; ok {
		c.order.Remove(elem)
		delete(c.entries, name)
	}
}

// clear drops every entry.
func (c *templateCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// len reports the number of cached templates.
func (c *templateCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
