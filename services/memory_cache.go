package services

import (
	"context"
	"sync"
	"time"
)

type cachedTotals struct {
	totals     Totals
	expireTime time.Time
}

// MemoryStatsCache keeps totals in process when Redis is not configured.
type MemoryStatsCache struct {
	mutex      sync.RWMutex
	item       *cachedTotals
	generation int64
	ttl        time.Duration
	now        func() time.Time
}

func NewMemoryStatsCache(ttl time.Duration) *MemoryStatsCache {
	return &MemoryStatsCache{ttl: ttl, now: time.Now}
}

func (c *MemoryStatsCache) Get(context.Context) (*Totals, int64, error) {
	c.mutex.RLock()
	item, gen := c.item, c.generation
	c.mutex.RUnlock()

	if item == nil || c.now().After(item.expireTime) {
		return nil, gen, nil
	}
	return copyTotals(&item.totals), gen, nil
}

func (c *MemoryStatsCache) Set(_ context.Context, gen int64, t *Totals) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if gen != c.generation {
		return nil
	}
	c.item = &cachedTotals{totals: *copyTotals(t), expireTime: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryStatsCache) Invalidate(context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.generation++
	c.item = nil
	return nil
}

// callers may mutate the map they get back
func copyTotals(t *Totals) *Totals {
	out := &Totals{TotalAmount: t.TotalAmount, TotalCount: t.TotalCount, WardWise: make(map[string]int64, len(t.WardWise))}
	for k, v := range t.WardWise {
		out.WardWise[k] = v
	}
	return out
}
