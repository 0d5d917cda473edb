// Package counting implements a hierarchical counter of steps taken by
// learners and actors.
package counting

import "sync"

// Counter counts named events. A Counter may have a parent, in which
// case every increment is also applied to the parent with the key
// prefixed by the Counter's prefix. A Counter is safe for concurrent
// use.
type Counter struct {
	mu     sync.Mutex
	parent *Counter
	prefix string
	counts map[string]int
}

// NewCounter returns a new Counter. The parent may be nil.
func NewCounter(parent *Counter, prefix string) *Counter {
	return &Counter{
		parent: parent,
		prefix: prefix,
		counts: make(map[string]int),
	}
}

// Increment increments each key of counts and returns a copy of all
// counts after the increment
func (c *Counter) Increment(counts map[string]int) map[string]int {
	c.mu.Lock()
	for k, v := range counts {
		c.counts[k] += v
	}
	c.mu.Unlock()

	if c.parent != nil {
		prefixed := make(map[string]int, len(counts))
		for k, v := range counts {
			prefixed[c.key(k)] = v
		}
		c.parent.Increment(prefixed)
	}
	return c.Get()
}

// Get returns a copy of all counts
func (c *Counter) Get() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Count returns the count of a single key
func (c *Counter) Count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func (c *Counter) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + "_" + k
}
