package logic

import "time"

// Deduplicator drops bus-level duplicates: the same action string delivered
// again within the window. It holds one entry per device, not per button.
type Deduplicator struct {
	window time.Duration
	last   string
	lastAt time.Time
	seen   bool
}

// NewDeduplicator creates a Deduplicator with the given window.
// A non-positive window falls back to DefaultDebounce.
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Deduplicator{window: window}
}

// Accept reports whether action should be processed. Times must come from a
// monotonic source. A suppressed action does not extend the window.
func (d *Deduplicator) Accept(action string, now time.Time) bool {
	if d.seen && action == d.last && now.Sub(d.lastAt) < d.window {
		return false
	}
	d.last = action
	d.lastAt = now
	d.seen = true
	return true
}

// Window returns the deduplication window.
func (d *Deduplicator) Window() time.Duration {
	return d.window
}
