// Package gpio drives an activity LED with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

// DefaultChip is the GPIO chip on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// DefaultPulse is how long the LED stays lit after an event.
const DefaultPulse = 150 * time.Millisecond

// Line drives a single GPIO output.
type Line interface {
	// Set drives the line high (true) or low.
	Set(on bool) error

	// Close releases GPIO resources.
	Close() error
}

// Indicator lights an LED briefly for every emitted event. It implements
// logic.Sink; metadata updates do not light the LED.
type Indicator struct {
	line   Line
	pulse  time.Duration
	logger *slog.Logger

	// afterFunc schedules f; the returned func cancels it.
	afterFunc func(d time.Duration, f func()) (stop func() bool)

	mu     sync.Mutex
	cancel func() bool
	closed bool
}

// NewIndicator creates an Indicator on line. A pulse of zero uses DefaultPulse.
func NewIndicator(line Line, pulse time.Duration, logger *slog.Logger) *Indicator {
	if pulse <= 0 {
		pulse = DefaultPulse
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indicator{
		line:   line,
		pulse:  pulse,
		logger: logger.With("component", "gpio"),
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
}

// Pulse turns the LED on and schedules it off. Pulses that overlap extend
// the lit period.
func (i *Indicator) Pulse() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	if i.cancel != nil {
		i.cancel()
	}
	if err := i.line.Set(true); err != nil {
		i.logger.Warn("led on failed", "error", err)
		return
	}
	i.cancel = i.afterFunc(i.pulse, i.off)
}

func (i *Indicator) off() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cancel = nil
	if i.closed {
		return
	}
	if err := i.line.Set(false); err != nil {
		i.logger.Warn("led off failed", "error", err)
	}
}

// Close turns the LED off and releases the line.
func (i *Indicator) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	if i.cancel != nil {
		i.cancel()
		i.cancel = nil
	}
	_ = i.line.Set(false)
	return i.line.Close()
}

func (i *Indicator) OnButtonEvent(string, logic.ButtonEvent)           { i.Pulse() }
func (i *Indicator) OnDialEvent(string, logic.DialEvent)               { i.Pulse() }
func (i *Indicator) OnCombinedEvent(string, logic.CombinedEvent)       { i.Pulse() }
func (i *Indicator) OnMetadataUpdate(string, logic.MetadataField, any) {}
