// Package dedupe provides a bounded first-in-first-out set used to suppress
// duplicate message deliveries.
package dedupe

import "sync"

// DefaultCapacity bounds the dedup memory. Duplicates older than the
// window are acceptable; the transport does not replay after a stop.
const DefaultCapacity = 5000

// Window is a FIFO set of message keys with a hard capacity. When full,
// inserting a new key evicts the oldest one.
type Window struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	ring     []string
	next     int
}

// New creates a window with the given capacity. Non-positive capacities
// fall back to DefaultCapacity.
func New(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
		ring:     make([]string, 0, capacity),
	}
}

// Observe inserts the key and reports whether it was new. A false return
// means the key is a duplicate within the window; the window is unchanged.
func (w *Window) Observe(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[key]; ok {
		return false
	}

	if len(w.ring) < w.capacity {
		w.ring = append(w.ring, key)
	} else {
		delete(w.seen, w.ring[w.next])
		w.ring[w.next] = key
		w.next = (w.next + 1) % w.capacity
	}
	w.seen[key] = struct{}{}
	return true
}

// Len returns the number of keys currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Reset drops all keys.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[string]struct{}, w.capacity)
	w.ring = w.ring[:0]
	w.next = 0
}
