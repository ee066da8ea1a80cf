package commands

import "sync"

// MarginCache holds the per-share margin requirement per symbol,
// refreshed once a day by CalculateStockMargins and read by position
// sizing.
type MarginCache struct {
	mu      sync.RWMutex
	margins map[string]float64
}

func NewMarginCache() *MarginCache {
	return &MarginCache{margins: make(map[string]float64)}
}

func (c *MarginCache) Get(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.margins[symbol]
	return v, ok
}

func (c *MarginCache) Set(symbol string, margin float64) {
	c.mu.Lock()
	c.margins[symbol] = margin
	c.mu.Unlock()
}

func (c *MarginCache) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.margins))
	for k, v := range c.margins {
		out[k] = v
	}
	return out
}
