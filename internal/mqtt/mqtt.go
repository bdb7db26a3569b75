// Package mqtt provides the MQTT transport with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

// Handler receives a message delivered on a subscribed topic.
type Handler func(topic string, payload []byte)

// Publisher publishes bridge output to MQTT.
type Publisher interface {
	// PublishEvent sends a normalized event.
	// Returns error if publishing fails (should not crash the process).
	PublishEvent(deviceID string, event logic.Event, at time.Time) error

	// PublishMetadata sends a retained device attribute.
	PublishMetadata(deviceID string, field logic.MetadataField, value any) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// PublishDiscovery announces device triggers to Home Assistant.
	PublishDiscovery(dev DeviceInfo) error

	// RemoveDiscovery clears the retained trigger configs for a device.
	RemoveDiscovery(deviceID string) error

	// RequestDevices asks zigbee2mqtt to republish its device list.
	RequestDevices() error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber subscribes to raw device topics.
type Subscriber interface {
	Subscribe(topic string, h Handler) error
	Unsubscribe(topic string) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Client is the full transport used by the bridge.
type Client interface {
	Publisher
	Subscriber
	ConnectionStatus
}

// Topics holds the topic layout.
type Topics struct {
	// Base is the zigbee2mqtt base topic.
	Base string
	// EventPrefix prefixes everything this bridge publishes.
	EventPrefix string
	// DiscoveryPrefix is the Home Assistant discovery prefix.
	DiscoveryPrefix string
}

// DefaultTopics returns the stock zigbee2mqtt / Home Assistant layout.
func DefaultTopics() Topics {
	return Topics{
		Base:            "zigbee2mqtt",
		EventPrefix:     "tapdial",
		DiscoveryPrefix: "homeassistant",
	}
}

// Device is the raw payload topic for a device.
func (t Topics) Device(deviceID string) string {
	return t.Base + "/" + deviceID
}

// BridgeDevices is where zigbee2mqtt publishes its device list.
func (t Topics) BridgeDevices() string {
	return t.Base + "/bridge/devices"
}

// BridgeDevicesGet requests a fresh device list.
func (t Topics) BridgeDevicesGet() string {
	return t.Base + "/bridge/devices/get"
}

// Event is the normalized event topic for a device.
func (t Topics) Event(deviceID string) string {
	return t.EventPrefix + "/" + deviceID + "/event"
}

// Metadata is the retained attribute topic for a device.
func (t Topics) Metadata(deviceID string, field logic.MetadataField) string {
	return t.EventPrefix + "/" + deviceID + "/" + string(field)
}

// System is the lifecycle topic.
func (t Topics) System() string {
	return t.EventPrefix + "/system"
}

// Discovery is the Home Assistant device trigger config topic. Home
// Assistant node ids allow only [a-zA-Z0-9_-], so anything else in the
// device ID becomes "_".
func (t Topics) Discovery(deviceID, action string) string {
	return fmt.Sprintf("%s/device_automation/%s/action_%s/config", t.DiscoveryPrefix, NodeID(deviceID), action)
}

// NodeID maps a device ID onto the Home Assistant node id alphabet.
func NodeID(deviceID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, deviceID)
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// EventPayload is the MQTT message payload for a normalized event.
type EventPayload struct {
	Event EventBody `json:"event"`
}

// EventBody contains the event details. Fields not relevant to Type are omitted.
type EventBody struct {
	Type               string   `json:"type"`
	Action             string   `json:"action"`
	DeviceID           string   `json:"device_id"`
	Timestamp          string   `json:"timestamp"`
	Button             int      `json:"button,omitempty"`
	PressType          string   `json:"press_type,omitempty"`
	Duration           *float64 `json:"duration,omitempty"`
	HeldButton         int      `json:"held_button,omitempty"`
	Direction          string   `json:"direction,omitempty"`
	Speed              string   `json:"speed,omitempty"`
	BrightnessDelta    *int     `json:"brightness_delta,omitempty"`
	AbsBrightnessDelta *uint    `json:"abs_brightness_delta,omitempty"`
	Brightness         *float64 `json:"brightness,omitempty"`
}

// NewEventBody flattens a normalized event for the wire.
func NewEventBody(deviceID string, event logic.Event, at time.Time) EventBody {
	body := EventBody{
		Type:      string(event.Kind),
		Action:    event.Action(),
		DeviceID:  deviceID,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
	switch event.Kind {
	case logic.KindButton:
		body.Button = int(event.Button.Button)
		body.PressType = string(event.Button.Press)
		body.Duration = event.Button.Duration
	case logic.KindDial:
		d := event.Dial
		body.Direction = string(d.Direction)
		body.Speed = string(d.Speed)
		body.BrightnessDelta = &d.Delta
		body.AbsBrightnessDelta = &d.AbsDelta
		body.Brightness = d.Brightness
	case logic.KindCombined:
		c := event.Combined
		body.HeldButton = int(c.HeldButton)
		body.Direction = string(c.Direction)
		body.Speed = string(c.Speed)
		body.BrightnessDelta = &c.Delta
		body.AbsBrightnessDelta = &c.AbsDelta
		body.Brightness = c.Brightness
	}
	return body
}

// FormatEvent creates the JSON payload for a normalized event.
func FormatEvent(deviceID string, event logic.Event, at time.Time) ([]byte, error) {
	return json.Marshal(EventPayload{Event: NewEventBody(deviceID, event, at)})
}

// FormatMetadata creates the JSON payload for a device attribute.
func FormatMetadata(value any) ([]byte, error) {
	return json.Marshal(value)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
