package mqtt

import (
	"log/slog"
	"time"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

// EventSink publishes classifier output. Publish failures are logged and
// never propagate back into the classifier.
type EventSink struct {
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewEventSink creates a sink over pub. A nil now uses time.Now.
func NewEventSink(pub Publisher, logger *slog.Logger, now func() time.Time) *EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &EventSink{pub: pub, logger: logger, now: now}
}

func (s *EventSink) publish(deviceID string, e logic.Event) {
	if err := s.pub.PublishEvent(deviceID, e, s.now()); err != nil {
		s.logger.Error("publish event failed", "device", deviceID, "action", e.Action(), "error", err)
	}
}

func (s *EventSink) OnButtonEvent(deviceID string, e logic.ButtonEvent) {
	s.publish(deviceID, logic.EventOf(e))
}

func (s *EventSink) OnDialEvent(deviceID string, e logic.DialEvent) {
	s.publish(deviceID, logic.EventOf(e))
}

func (s *EventSink) OnCombinedEvent(deviceID string, e logic.CombinedEvent) {
	s.publish(deviceID, logic.EventOf(e))
}

func (s *EventSink) OnMetadataUpdate(deviceID string, field logic.MetadataField, value any) {
	if err := s.pub.PublishMetadata(deviceID, field, value); err != nil {
		s.logger.Error("publish metadata failed", "device", deviceID, "field", field, "error", err)
	}
}
