package service

import (
	"sync"
	"time"
)

// SignalDeduplicator remembers recently executed signal ids so the same
// signal is never traded twice. Bounded: entries expire after a TTL and
// the set never exceeds a fixed capacity, so memory stays flat under
// long-running operation.
type SignalDeduplicator struct {
	mu sync.RWMutex

	seen     map[string]time.Time // id -> marked-at
	ttl      time.Duration
	capacity int
}

// NewSignalDeduplicator creates a deduplicator holding at most capacity
// ids for at most ttl each.
func NewSignalDeduplicator(capacity int, ttl time.Duration) *SignalDeduplicator {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignalDeduplicator{
		seen:     make(map[string]time.Time, capacity),
		ttl:      ttl,
		capacity: capacity,
	}
}

// Seen reports whether the id was marked within the TTL.
func (d *SignalDeduplicator) Seen(id string) bool {
	d.mu.RLock()
	ts, ok := d.seen[id]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	return time.Since(ts) < d.ttl
}

// Mark records the id as executed, evicting expired entries and, if the
// set is still full, the oldest entry.
func (d *SignalDeduplicator) Mark(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}

	if len(d.seen) >= d.capacity {
		var oldestID string
		var oldestTs time.Time
		for k, ts := range d.seen {
			if oldestID == "" || ts.Before(oldestTs) {
				oldestID = k
				oldestTs = ts
			}
		}
		delete(d.seen, oldestID)
	}

	d.seen[id] = now
}

// Len returns the number of live entries.
func (d *SignalDeduplicator) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.seen)
}
