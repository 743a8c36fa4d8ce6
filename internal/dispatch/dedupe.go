package dispatch

import (
	"slices"
	"sync"
	"time"
)

// Deduper remembers recent message ids so a redelivered message is
// processed once. Ids expire after window; when more than capacity ids
// are live the oldest are forgotten first.
type Deduper struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	seen     map[string]time.Time
	order    []string
}

// NewDeduper creates a filter. A non-positive window disables it.
func NewDeduper(window time.Duration, capacity int) *Deduper {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Deduper{
		window:   window,
		capacity: capacity,
		seen:     make(map[string]time.Time, capacity),
	}
}

// Seen records key at now and reports whether it was already recorded
// within the window. Empty keys are never duplicates.
func (d *Deduper) Seen(key string, now time.Time) bool {
	if d == nil || d.window <= 0 || key == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.expire(now)
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		return true
	}

	d.seen[key] = now
	d.order = append(d.order, key)
	for len(d.order) > d.capacity {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return false
}

// Forget drops key so its next delivery is processed again.
func (d *Deduper) Forget(key string) {
	if d == nil || key == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; !ok {
		return
	}
	delete(d.seen, key)
	if i := slices.Index(d.order, key); i >= 0 {
		d.order = slices.Delete(d.order, i, i+1)
	}
}

// Len returns the number of remembered ids.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// expire drops ids older than the window. order is oldest-first.
func (d *Deduper) expire(now time.Time) {
	n := 0
	for n < len(d.order) {
		at, ok := d.seen[d.order[n]]
		if ok && now.Sub(at) < d.window {
			break
		}
		delete(d.seen, d.order[n])
		n++
	}
	d.order = d.order[n:]
}
