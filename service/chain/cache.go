package chain

import "sync"

// boundedCache keeps the most recently inserted size entries.
type boundedCache[K comparable, V any] struct {
	mu    sync.Mutex
	size  int
	items map[K]V
	order []K
}

func newBoundedCache[K comparable, V any](size int) *boundedCache[K, V] {
	return &boundedCache[K, V]{
		size:  size,
		items: make(map[K]V, size),
		order: make([]K, 0, size),
	}
}

func (c *boundedCache[K, V]) get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[k]
	return v, ok
}

func (c *boundedCache[K, V]) has(k K) bool {
	_, ok := c.get(k)
	return ok
}

func (c *boundedCache[K, V]) put(k K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[k]; ok {
		c.items[k] = v
		return
	}
	if len(c.order) >= c.size {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[k] = v
	c.order = append(c.order, k)
}
