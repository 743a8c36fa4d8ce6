package dispatch

import (
	"sort"
	"sync"
	"time"
)

// LivenessTracker records the last heartbeat per device.
type LivenessTracker struct {
	mu        sync.Mutex
	threshold time.Duration
	lastSeen  map[string]time.Time
}

// NewLivenessTracker creates a tracker that marks devices offline after threshold.
func NewLivenessTracker(threshold time.Duration) *LivenessTracker {
	return &LivenessTracker{threshold: threshold, lastSeen: make(map[string]time.Time)}
}

// Beat records a heartbeat. It reports whether the device was not tracked before.
func (t *LivenessTracker) Beat(deviceID string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, known := t.lastSeen[deviceID]
	t.lastSeen[deviceID] = at
	return !known
}

// OfflineDevice is a device dropped by Sweep.
type OfflineDevice struct {
	DeviceID string
	LastSeen time.Time
}

// Sweep removes and returns every device whose last heartbeat is older than
// the threshold. A removed device is reported again only after a new beat.
func (t *LivenessTracker) Sweep(now time.Time) []OfflineDevice {
	t.mu.Lock()
	defer t.mu.Unlock()

	var offline []OfflineDevice
	for id, seen := range t.lastSeen {
		if now.Sub(seen) > t.threshold {
			offline = append(offline, OfflineDevice{DeviceID: id, LastSeen: seen})
			delete(t.lastSeen, id)
		}
	}
	sort.Slice(offline, func(i, j int) bool { return offline[i].DeviceID < offline[j].DeviceID })
	return offline
}

// Tracked returns the number of devices being tracked.
func (t *LivenessTracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastSeen)
}
