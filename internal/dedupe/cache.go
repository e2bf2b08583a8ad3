// ABOUTME: Thread-safe TTL cache for suppressing repeated UI signals
// ABOUTME: Used by the event bus to collapse identical toasts fired in quick succession

package dedupe

import (
	"sync"
	"time"
)

// Cache tracks recently seen keys for a bounded window. It is size-limited:
// when full, the oldest entry is evicted to make room.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	order   []string // insertion order, oldest first
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache holding keys for ttl, capped at maxSize entries. A
// background goroutine sweeps expired entries until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// SeenOrMark atomically reports whether key was seen inside the TTL window,
// marking it seen if not. A single call site can therefore suppress
// duplicates without a check/mark race.
func (c *Cache) SeenOrMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[key]; ok && time.Since(at) < c.ttl {
		return true
	}
	c.markLocked(key)
	return false
}

// Seen reports whether key is inside the TTL window without marking it.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.seen[key]
	return ok && time.Since(at) < c.ttl
}

func (c *Cache) markLocked(key string) {
	if _, exists := c.seen[key]; !exists {
		for len(c.seen) >= c.maxSize && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.seen, oldest)
		}
		c.order = append(c.order, key)
	}
	c.seen[key] = time.Now()
}

// Len returns the number of tracked keys, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Close stops the background sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			kept := c.order[:0]
			for _, key := range c.order {
				at, ok := c.seen[key]
				if !ok {
					continue
				}
				if time.Since(at) >= c.ttl {
					delete(c.seen, key)
					continue
				}
				kept = append(kept, key)
			}
			c.order = kept
			c.mu.Unlock()
		}
	}
}
