package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

// Device identity advertised in discovery configs.
const (
	Manufacturer = "Philips"
	Model        = "Hue Tap Dial Switch"
)

// DeviceInfo identifies a device for discovery.
type DeviceInfo struct {
	ID   string
	Name string
}

// DiscoveryMessage is a Home Assistant device trigger config.
type DiscoveryMessage struct {
	AutomationType string                 `json:"automation_type"`
	Type           string                 `json:"type"`
	SubType        string                 `json:"subtype"`
	Topic          string                 `json:"topic"`
	Payload        string                 `json:"payload"`
	ValueTemplate  string                 `json:"value_template"`
	Device         DeviceDiscoveryMessage `json:"device"`
}

// DeviceDiscoveryMessage is the device block of a discovery config.
type DeviceDiscoveryMessage struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

// Trigger is one automation trigger exposed per device.
type Trigger struct {
	Action  string
	Type    string
	SubType string
}

// Triggers lists every action the bridge can publish for a device.
func Triggers() []Trigger {
	var out []Trigger
	for b := 1; b <= logic.NumButtons; b++ {
		sub := fmt.Sprintf("button_%d", b)
		out = append(out,
			Trigger{Action: fmt.Sprintf("button_%d_short", b), Type: "button_short_press", SubType: sub},
			Trigger{Action: fmt.Sprintf("button_%d_long", b), Type: "button_long_press", SubType: sub},
		)
	}
	for _, dir := range []logic.Direction{logic.DirectionUp, logic.DirectionDown} {
		out = append(out, Trigger{
			Action:  "brightness_step_" + string(dir),
			Type:    "dial_rotate_" + string(dir),
			SubType: "dial",
		})
	}
	for b := 1; b <= logic.NumButtons; b++ {
		for _, dir := range []logic.Direction{logic.DirectionUp, logic.DirectionDown} {
			out = append(out, Trigger{
				Action:  fmt.Sprintf("button_%d_dial_brightness_step_%s", b, dir),
				Type:    "dial_rotate_" + string(dir),
				SubType: fmt.Sprintf("button_%d", b),
			})
		}
	}
	return out
}

// FormatDiscovery creates the trigger config payload for one action.
func FormatDiscovery(topics Topics, dev DeviceInfo, tr Trigger) ([]byte, error) {
	name := dev.Name
	if name == "" {
		name = dev.ID
	}
	msg := DiscoveryMessage{
		AutomationType: "trigger",
		Type:           tr.Type,
		SubType:        tr.SubType,
		Topic:          topics.Event(dev.ID),
		Payload:        tr.Action,
		ValueTemplate:  "{{ value_json.event.action }}",
		Device: DeviceDiscoveryMessage{
			Identifiers:  []string{"tapdial_" + dev.ID},
			Name:         name,
			Model:        Model,
			Manufacturer: Manufacturer,
		},
	}
	return json.Marshal(msg)
}
