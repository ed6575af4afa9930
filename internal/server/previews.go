package server

import (
	"container/list"
	"sync"
	"time"

	"defgen/internal/generation"
)

const (
	DefaultPreviewCapacity = 512
	DefaultPreviewTTL      = 30 * time.Minute
)

// previewCache keeps recent previews so the UI can send the candidate text
// back by request id. Oldest entries are evicted first.
type previewCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	items    map[string]*list.Element
	now      func() time.Time
}

type previewEntry struct {
	id      string
	preview *generation.Preview
	stored  time.Time
}

func newPreviewCache(capacity int, ttl time.Duration) *previewCache {
	if capacity <= 0 {
		capacity = DefaultPreviewCapacity
	}
	if ttl <= 0 {
		ttl = DefaultPreviewTTL
	}
	return &previewCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (c *previewCache) put(p *generation.Preview) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[p.RequestID]; ok {
		c.order.Remove(el)
	}
	c.items[p.RequestID] = c.order.PushBack(&previewEntry{id: p.RequestID, preview: p, stored: c.now()})
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*previewEntry).id)
	}
}

func (c *previewCache) get(id string) (*generation.Preview, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*previewEntry)
	if c.now().Sub(entry.stored) > c.ttl {
		c.order.Remove(el)
		delete(c.items, id)
		return nil, false
	}
	return entry.preview, true
}

func (c *previewCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
