package fraud

import (
	"sync"
	"time"
)

type velocityWindow struct {
	start time.Time
	count int
}

// VelocityTracker counts transactions per account inside a rolling window.
// State lives only in memory and is lost on restart.
type VelocityTracker struct {
	mu      sync.Mutex
	window  time.Duration
	windows map[string]*velocityWindow
}

func NewVelocityTracker(window time.Duration) *VelocityTracker {
	return &VelocityTracker{
		window:  window,
		windows: make(map[string]*velocityWindow),
	}
}

// Observe records one transaction at now and returns the count of the
// account's current window. A transaction arriving at or after the end of the
// window starts a new one with count 1.
func (v *VelocityTracker) Observe(accountID string, now time.Time) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	w, ok := v.windows[accountID]
	if !ok || now.Sub(w.start) >= v.window {
		v.windows[accountID] = &velocityWindow{start: now, count: 1}
		return 1
	}

	w.count++
	return w.count
}

// Reset forgets the window of accountID.
func (v *VelocityTracker) Reset(accountID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.windows, accountID)
}
