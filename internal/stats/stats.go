// Package stats implements the cache's statistics calculator: a handful of
// monotonically increasing counters covering hits, misses, puts, removals,
// evictions, and expirations.
package stats

import "sync/atomic"

// Snapshot is a point-in-time read of every counter.
type Snapshot struct {
	Hits      uint64
	Misses    uint64
	Puts      uint64
	Removals  uint64
	Evictions uint64
	Expires   uint64
}

// Calculator accumulates cache activity counters. The zero value is ready
// to use.
type Calculator struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	puts      atomic.Uint64
	removals  atomic.Uint64
	evictions atomic.Uint64
	expires   atomic.Uint64
}

func (c *Calculator) Hit()      { c.hits.Add(1) }
func (c *Calculator) Miss()     { c.misses.Add(1) }
func (c *Calculator) Put()      { c.puts.Add(1) }
func (c *Calculator) Removal()  { c.removals.Add(1) }
func (c *Calculator) Eviction() { c.evictions.Add(1) }
func (c *Calculator) Expire()   { c.expires.Add(1) }

// Snapshot returns the current counter values. Individual fields may be
// slightly inconsistent with each other under concurrent activity, which
// matches the weakly-consistent guarantee the rest of the cache offers.
func (c *Calculator) Snapshot() Snapshot {
	return Snapshot{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Puts:      c.puts.Load(),
		Removals:  c.removals.Load(),
		Evictions: c.evictions.Load(),
		Expires:   c.expires.Load(),
	}
}

// Reset zeroes every counter. Not atomic across fields.
func (c *Calculator) Reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.puts.Store(0)
	c.removals.Store(0)
	c.evictions.Store(0)
	c.expires.Store(0)
}
