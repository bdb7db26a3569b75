package gpio

import "sync"

// FakeLine records every value driven onto it.
type FakeLine struct {
	mu     sync.Mutex
	values []bool
	closed bool

	// SetError, if set, will be returned by Set.
	SetError error
}

// NewFakeLine creates a FakeLine.
func NewFakeLine() *FakeLine {
	return &FakeLine{}
}

// Set records v.
func (f *FakeLine) Set(v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.values = append(f.values, v)
	return nil
}

// Values returns the recorded values in order.
func (f *FakeLine) Values() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.values...)
}

// On reports the last driven value.
func (f *FakeLine) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.values) > 0 && f.values[len(f.values)-1]
}

// Close marks the line as closed.
func (f *FakeLine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeLine) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
