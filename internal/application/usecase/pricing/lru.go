package pricing

import (
	"container/list"
	"time"

	"pricepulse/internal/domain/model"
)

// lruCache is a strict LRU bounded by entry count. Not safe for concurrent
// use; the cache manager holds the lock.
type lruCache struct {
	max   int
	ll    *list.List
	items map[string]*list.Element
}

type lruEntry struct {
	key       string
	point     *model.PricePoint
	expiresAt time.Time
}

func newLRU(max int) *lruCache {
	return &lruCache{
		max:   max,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *lruCache) get(key string) (*lruEntry, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry), true
}

func (c *lruCache) set(key string, p *model.PricePoint, expiresAt time.Time) {
	if el, ok := c.items[key]; ok {
		ent := el.Value.(*lruEntry)
		ent.point = p
		ent.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		return
	}
	if c.ll.Len() >= c.max {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
	c.items[key] = c.ll.PushFront(&lruEntry{key: key, point: p, expiresAt: expiresAt})
}

func (c *lruCache) delete(key string) {
	if el, ok := c.items[key]; ok {
		c.ll.Remove(el)
		delete(c.items, key)
	}
}

func (c *lruCache) len() int { return c.ll.Len() }

func (c *lruCache) keys() []string {
	out := make([]string, 0, len(c.items))
	for el := c.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*lruEntry).key)
	}
	return out
}
