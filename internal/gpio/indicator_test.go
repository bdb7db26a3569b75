package gpio

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

// manualTimer captures scheduled callbacks so tests can fire them.
type manualTimer struct {
	pending []func()
	stopped int
}

func (m *manualTimer) afterFunc(_ time.Duration, f func()) func() bool {
	idx := len(m.pending)
	m.pending = append(m.pending, f)
	return func() bool {
		if m.pending[idx] == nil {
			return false
		}
		m.pending[idx] = nil
		m.stopped++
		return true
	}
}

func (m *manualTimer) fire() {
	for i, f := range m.pending {
		if f != nil {
			m.pending[i] = nil
			f()
		}
	}
}

func newTestIndicator(line Line) (*Indicator, *manualTimer) {
	ind := NewIndicator(line, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mt := &manualTimer{}
	ind.afterFunc = mt.afterFunc
	return ind, mt
}

func TestIndicatorPulse(t *testing.T) {
	line := NewFakeLine()
	ind, mt := newTestIndicator(line)

	ind.Pulse()
	if !line.On() {
		t.Fatal("expected LED on after pulse")
	}
	mt.fire()
	if line.On() {
		t.Error("expected LED off after timer")
	}

	want := []bool{true, false}
	got := line.Values()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("values: got %v, want %v", got, want)
	}
}

func TestIndicatorOverlappingPulsesExtend(t *testing.T) {
	line := NewFakeLine()
	ind, mt := newTestIndicator(line)

	ind.Pulse()
	ind.Pulse()
	if mt.stopped != 1 {
		t.Errorf("expected first timer cancelled, stopped=%d", mt.stopped)
	}
	mt.fire()
	if line.On() {
		t.Error("expected LED off")
	}
	if n := len(line.Values()); n != 3 {
		t.Errorf("expected on,on,off; got %v", line.Values())
	}
}

func TestIndicatorSinkEvents(t *testing.T) {
	line := NewFakeLine()
	ind, _ := newTestIndicator(line)

	ind.OnMetadataUpdate("hall", logic.FieldBattery, float64(5))
	if len(line.Values()) != 0 {
		t.Error("metadata should not light the LED")
	}

	ind.OnButtonEvent("hall", logic.ButtonEvent{Button: 1, Press: logic.PressShort})
	ind.OnDialEvent("hall", logic.DialEvent{})
	ind.OnCombinedEvent("hall", logic.CombinedEvent{})
	if n := len(line.Values()); n != 3 {
		t.Errorf("expected 3 pulses, got %d", n)
	}
}

func TestIndicatorClose(t *testing.T) {
	line := NewFakeLine()
	ind, mt := newTestIndicator(line)

	ind.Pulse()
	if err := ind.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !line.Closed() || line.On() {
		t.Error("expected line off and closed")
	}
	if mt.stopped != 1 {
		t.Error("expected pending timer cancelled")
	}

	ind.Pulse()
	if line.On() {
		t.Error("pulse after close must be ignored")
	}
	if err := ind.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestIndicatorSetError(t *testing.T) {
	line := NewFakeLine()
	line.SetError = errors.New("line busy")
	ind, mt := newTestIndicator(line)

	ind.Pulse()
	if len(mt.pending) != 0 {
		t.Error("no off timer should be scheduled when the LED failed to turn on")
	}
}
