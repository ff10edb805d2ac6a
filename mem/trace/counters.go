package trace

import (
	"sort"
	"sync"
)

// Counters keeps named counters in memory. It is safe for concurrent use so
// that a monitor can read it while the simulation runs.
type Counters struct {
	lock   sync.RWMutex
	values map[string]uint64
}

// NewCounters creates empty counters.
func NewCounters() *Counters {
	return &Counters{values: make(map[string]uint64)}
}

// Add increases the counter by delta.
func (c *Counters) Add(name string, delta uint64) {
	c.lock.Lock()
	c.values[name] += delta
	c.lock.Unlock()
}

// Get returns the value of a counter, zero if it was never added to.
func (c *Counters) Get(name string) uint64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.values[name]
}

// Names returns the names of the counters in order.
func (c *Counters) Names() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()

	names := make([]string, 0, len(c.values))
	for name := range c.values {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Snapshot returns a copy of all the counters.
func (c *Counters) Snapshot() map[string]uint64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	s := make(map[string]uint64, len(c.values))
	for k, v := range c.values {
		s[k] = v
	}

	return s
}

// Reset sets every counter back to zero.
func (c *Counters) Reset() {
	c.lock.Lock()
	c.values = make(map[string]uint64)
	c.lock.Unlock()
}
