package dedup

import (
	"container/list"
	"time"
)

type entry struct {
	signature string
	at        time.Time
}

// fifoCache keeps at most limit keys and evicts in insertion order.
// Updating an existing key keeps its position.
type fifoCache struct {
	limit int
	order *list.List
	items map[string]fifoItem
}

type fifoItem struct {
	entry
	elem *list.Element
}

func newFIFO(limit int) *fifoCache {
	if limit < 1 {
		limit = 1
	}
	return &fifoCache{
		limit: limit,
		order: list.New(),
		items: make(map[string]fifoItem),
	}
}

func (c *fifoCache) get(key string) (entry, bool) {
	it, ok := c.items[key]
	return it.entry, ok
}

// put upserts key and returns how many keys were evicted to respect the limit.
func (c *fifoCache) put(key string, e entry) int {
	if it, ok := c.items[key]; ok {
		it.entry = e
		c.items[key] = it
		return c.shrink()
	}
	c.items[key] = fifoItem{entry: e, elem: c.order.PushBack(key)}
	return c.shrink()
}

func (c *fifoCache) shrink() int {
	evicted := 0
	for c.order.Len() > c.limit {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(string))
		evicted++
	}
	return evicted
}

// setLimit changes the capacity; the cache shrinks on its next put.
func (c *fifoCache) setLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	c.limit = limit
}

func (c *fifoCache) len() int { return c.order.Len() }

func (c *fifoCache) reset() {
	c.order.Init()
	c.items = make(map[string]fifoItem)
}
