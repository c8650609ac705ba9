package dashboard

import "github.com/Additional-Code/courierdesk/internal/entity"

// Cache is an identity map of the last fetched orders, keeping fetch order.
// It is not safe for concurrent use; Controller guards it.
type Cache struct {
	byID  map[int64]*entity.Order
	order []int64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{byID: map[int64]*entity.Order{}}
}

// Replace discards every entry and stores orders in the given order.
func (c *Cache) Replace(orders []*entity.Order) {
	c.byID = make(map[int64]*entity.Order, len(orders))
	c.order = make([]int64, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		if _, dup := c.byID[o.ID]; !dup {
			c.order = append(c.order, o.ID)
		}
		c.byID[o.ID] = o
	}
}

// Get returns the cached order with id.
func (c *Cache) Get(id int64) (*entity.Order, bool) {
	o, ok := c.byID[id]
	return o, ok
}

// Put swaps the entry for an already cached order. Unknown ids are ignored.
func (c *Cache) Put(o *entity.Order) bool {
	if o == nil {
		return false
	}
	if _, ok := c.byID[o.ID]; !ok {
		return false
	}
	c.byID[o.ID] = o
	return true
}

// Remove drops the order with id; unknown ids are ignored.
func (c *Cache) Remove(id int64) bool {
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Values lists the cached orders in fetch order.
func (c *Cache) Values() []*entity.Order {
	out := make([]*entity.Order, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Len reports the number of cached orders.
func (c *Cache) Len() int { return len(c.order) }
