package plans

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const allPlansKey = "\x00all"

// CachedCatalog wraps a Store with an expiring in-memory LRU.
// Writes go straight to the backing store and purge the cache.
type CachedCatalog struct {
	store  Store
	byID   *lru.LRU[string, *Plan]
	lists  *lru.LRU[string, []*Plan]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedCatalog creates a cache holding up to size plans for ttl
func NewCachedCatalog(store Store, size int, ttl time.Duration) *CachedCatalog {
	if size < 1 {
		size = 128
	}
	return &CachedCatalog{
		store: store,
		byID:  lru.NewLRU[string, *Plan](size, nil, ttl),
		lists: lru.NewLRU[string, []*Plan](1, nil, ttl),
	}
}

// GetPlanByID implements Catalog.GetPlanByID
func (c *CachedCatalog) GetPlanByID(ctx context.Context, id string) (*Plan, error) {
	if p, ok := c.byID.Get(id); ok {
		c.hits.Add(1)
		return p.Clone(), nil
	}
	c.misses.Add(1)

	p, err := c.store.GetPlanByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.byID.Add(id, p.Clone())
	return p, nil
}

// GetAllPlans implements Catalog.GetAllPlans
func (c *CachedCatalog) GetAllPlans(ctx context.Context) ([]*Plan, error) {
	if list, ok := c.lists.Get(allPlansKey); ok {
		c.hits.Add(1)
		return cloneAll(list), nil
	}
	c.misses.Add(1)

	list, err := c.store.GetAllPlans(ctx)
	if err != nil {
		return nil, err
	}
	c.lists.Add(allPlansKey, cloneAll(list))
	return list, nil
}

// SavePlan implements Store.SavePlan
func (c *CachedCatalog) SavePlan(ctx context.Context, plan *Plan) error {
	if err := c.store.SavePlan(ctx, plan); err != nil {
		return err
	}
	c.Purge()
	return nil
}

// DeprecatePlan implements Store.DeprecatePlan
func (c *CachedCatalog) DeprecatePlan(ctx context.Context, id string) error {
	if err := c.store.DeprecatePlan(ctx, id); err != nil {
		return err
	}
	c.Purge()
	return nil
}

// Purge drops every cached entry
func (c *CachedCatalog) Purge() {
	c.byID.Purge()
	c.lists.Purge()
}

// Stats returns cache hit and miss counts
func (c *CachedCatalog) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func cloneAll(list []*Plan) []*Plan {
	out := make([]*Plan, len(list))
	for i, p := range list {
		out[i] = p.Clone()
	}
	return out
}
