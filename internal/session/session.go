// Package session serializes raw records per device and delivers the
// classifier's output to a sink. Sessions are owned by a Manager; there is no
// process-wide state.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

// ErrUnknownDevice is returned when a record arrives for a device that has
// not been provisioned.
var ErrUnknownDevice = errors.New("unknown device")

// Observer is told the outcome of every record. Metrics implement it.
type Observer interface {
	ObserveRecord(deviceID string, outcome logic.Outcome)
}

// Clock returns the current time. It must carry a monotonic reading.
type Clock func() time.Time

// Session is the processing state for one device. Records are handled one at
// a time in the order Handle is called.
type Session struct {
	id       string
	name     string
	sink     logic.Sink
	observer Observer
	logger   *slog.Logger
	clock    Clock
	started  time.Time

	mu       sync.Mutex
	device   *logic.Device
	received int
	lastSeen time.Time
}

// Handle processes one payload. Decode failures and panics are logged and
// returned; the session stays usable either way.
func (s *Session) Handle(payload []byte) (res logic.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	s.received++
	s.lastSeen = now

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("record processing panicked", "panic", r, "payload", string(payload))
			res = logic.Result{Outcome: logic.OutcomePanic}
			err = fmt.Errorf("process record: panic: %v", r)
			s.observe(logic.OutcomePanic)
		}
	}()

	res, err = s.device.Process(logic.Input{Payload: payload, Time: now})
	if err != nil {
		s.logger.Warn("dropping malformed payload", "error", err)
		s.observe(res.Outcome)
		return res, err
	}

	switch res.Outcome {
	case logic.OutcomeDuplicate:
		s.logger.Debug("ignoring duplicate action")
	case logic.OutcomeUnrecognized:
		s.logger.Debug("ignoring unrecognized action")
	case logic.OutcomeSuppressed:
		s.logger.Debug("suppressing release consumed by rotation")
	case logic.OutcomeRejected:
		s.logger.Debug("ignoring rotation without effect")
	case logic.OutcomeEmitted:
		s.logger.Debug("emitting event", "action", res.Event.Action(), "kind", res.Event.Kind)
	}

	logic.Dispatch(s.sink, s.id, res)
	s.observe(res.Outcome)
	return res, nil
}

func (s *Session) observe(o logic.Outcome) {
	if s.observer != nil {
		s.observer.ObserveRecord(s.id, o)
	}
}

// ID returns the device identifier.
func (s *Session) ID() string {
	return s.id
}

// Name returns the display name.
func (s *Session) Name() string {
	return s.name
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID       string
	Name     string
	Buttons  logic.Buttons
	Counts   logic.EventCounts
	Received int
	Started  time.Time
	LastSeen time.Time
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:       s.id,
		Name:     s.name,
		Buttons:  s.device.Buttons(),
		Counts:   s.device.EventCounts(),
		Received: s.received,
		Started:  s.started,
		LastSeen: s.lastSeen,
	}
}
