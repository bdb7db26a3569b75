package mqtt

import (
	"sync"
	"time"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

// Published is one message recorded by FakeClient.
type Published struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// FakeClient records publishes and lets tests deliver messages to subscribers.
type FakeClient struct {
	Topics Topics

	// PublishError, if set, is returned by every publish method.
	PublishError error

	mu        sync.Mutex
	messages  []Published
	events    []logic.Event
	system    []SystemEvent
	subs      map[string]Handler
	requests  int
	closed    bool
	connected bool
}

// NewFakeClient creates a connected FakeClient using the default topics.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Topics:    DefaultTopics(),
		subs:      make(map[string]Handler),
		connected: true,
	}
}

func (f *FakeClient) record(topic string, payload []byte, retained bool) {
	f.messages = append(f.messages, Published{Topic: topic, Payload: payload, Retained: retained})
}

// PublishEvent records the event and its wire payload.
func (f *FakeClient) PublishEvent(deviceID string, event logic.Event, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatEvent(deviceID, event, at)
	if err != nil {
		return err
	}
	f.events = append(f.events, event)
	f.record(f.Topics.Event(deviceID), payload, false)
	return nil
}

// PublishMetadata records the attribute.
func (f *FakeClient) PublishMetadata(deviceID string, field logic.MetadataField, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatMetadata(value)
	if err != nil {
		return err
	}
	f.record(f.Topics.Metadata(deviceID, field), payload, true)
	return nil
}

// PublishSystem records the system event.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.system = append(f.system, event)
	f.record(f.Topics.System(), payload, event.Retained)
	return nil
}

// PublishDiscovery records one config per trigger.
func (f *FakeClient) PublishDiscovery(dev DeviceInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	for _, tr := range Triggers() {
		payload, err := FormatDiscovery(f.Topics, dev, tr)
		if err != nil {
			return err
		}
		f.record(f.Topics.Discovery(dev.ID, tr.Action), payload, true)
	}
	return nil
}

// RemoveDiscovery records empty retained configs.
func (f *FakeClient) RemoveDiscovery(deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	for _, tr := range Triggers() {
		f.record(f.Topics.Discovery(deviceID, tr.Action), nil, true)
	}
	return nil
}

// RequestDevices counts device list requests.
func (f *FakeClient) RequestDevices() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.requests++
	f.record(f.Topics.BridgeDevicesGet(), []byte("{}"), false)
	return nil
}

// Subscribe registers h for the exact topic.
func (f *FakeClient) Subscribe(topic string, h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = h
	return nil
}

// Unsubscribe removes the handler for topic.
func (f *FakeClient) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, topic)
	return nil
}

// Deliver hands payload to the subscriber of topic. It reports whether anyone
// was subscribed.
func (f *FakeClient) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.subs[topic]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h(topic, payload)
	return true
}

// Subscribed reports whether topic has a handler.
func (f *FakeClient) Subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[topic]
	return ok
}

// Messages returns a copy of everything published.
func (f *FakeClient) Messages() []Published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Published(nil), f.messages...)
}

// MessagesOn returns the messages published on topic.
func (f *FakeClient) MessagesOn(topic string) []Published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Published
	for _, m := range f.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Events returns the published events in order.
func (f *FakeClient) Events() []logic.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.Event(nil), f.events...)
}

// SystemEvents returns the published system events in order.
func (f *FakeClient) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.system...)
}

// DeviceRequests returns how many times RequestDevices was called.
func (f *FakeClient) DeviceRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

// SetConnected controls IsConnected.
func (f *FakeClient) SetConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

// IsConnected reports whether the fake is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

// Closed reports whether Close was called.
func (f *FakeClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears everything recorded.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
	f.events = nil
	f.system = nil
	f.requests = 0
	f.PublishError = nil
}
