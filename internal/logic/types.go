// Package logic contains the pure event classification engine for the tap dial.
// This package has NO external dependencies (no MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"time"
)

// NumButtons is the number of buttons on the controller.
const NumButtons = 4

// DefaultDebounce is the window in which identical raw actions collapse to one.
const DefaultDebounce = 100 * time.Millisecond

// Button identifies a physical button, numbered 1..NumButtons.
type Button int

// Valid reports whether b is a real button number.
func (b Button) Valid() bool {
	return b >= 1 && b <= NumButtons
}

func (b Button) index() int {
	if !b.Valid() {
		panic(fmt.Sprintf("logic: button %d out of range 1..%d", b, NumButtons))
	}
	return int(b) - 1
}

// PressType distinguishes a tap from a hold.
type PressType string

const (
	PressShort PressType = "short"
	PressLong  PressType = "long"
)

// Direction is the sense of a dial rotation.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Speed is the rotation speed reported by legacy rotate actions.
// The zero value means the firmware did not report one.
type Speed string

const (
	SpeedSlow Speed = "slow"
	SpeedFast Speed = "fast"
)

// EventKind discriminates the Event union.
type EventKind string

const (
	KindButton   EventKind = "button"
	KindDial     EventKind = "dial"
	KindCombined EventKind = "combined"
)

// ButtonEvent is a short or long press that was not consumed by a rotation.
type ButtonEvent struct {
	Button   Button
	Press    PressType
	Duration *float64 // action_duration, seconds, when reported
}

// DialEvent is a rotation with no button held.
type DialEvent struct {
	Direction  Direction
	Speed      Speed
	Delta      int
	AbsDelta   uint
	Brightness *float64
}

// CombinedEvent is a rotation performed while a button is held.
type CombinedEvent struct {
	HeldButton Button
	Direction  Direction
	Speed      Speed
	Delta      int
	AbsDelta   uint
	Brightness *float64
}

// Event is a normalized event. Exactly one of Button, Dial or Combined is set,
// matching Kind.
type Event struct {
	Kind     EventKind
	Button   *ButtonEvent
	Dial     *DialEvent
	Combined *CombinedEvent
}

// Action returns the trigger name used downstream, e.g. "button_2_short",
// "brightness_step_up" or "button_1_dial_brightness_step_down".
func (e Event) Action() string {
	switch e.Kind {
	case KindButton:
		return fmt.Sprintf("button_%d_%s", e.Button.Button, e.Button.Press)
	case KindDial:
		return "brightness_step_" + string(e.Dial.Direction)
	case KindCombined:
		return fmt.Sprintf("button_%d_dial_brightness_step_%s", e.Combined.HeldButton, e.Combined.Direction)
	}
	return ""
}

// MetadataField names a device attribute carried alongside actions.
type MetadataField string

const (
	FieldBattery          MetadataField = "battery"
	FieldLinkQuality      MetadataField = "linkquality"
	FieldInstalledVersion MetadataField = "installed_version"
	FieldLatestVersion    MetadataField = "latest_version"
	FieldUpdateAvailable  MetadataField = "update_available"
)

// MetadataUpdate is a single attribute change. Value is a float64 for battery
// and link quality, a string for versions and a bool for update availability.
type MetadataUpdate struct {
	Field MetadataField
	Value any
}

// Outcome records what happened to a raw record. It never affects routing;
// it exists for logging and metrics.
type Outcome string

const (
	OutcomeEmitted      Outcome = "emitted"
	OutcomeStateOnly    Outcome = "state_only"
	OutcomeSuppressed   Outcome = "suppressed"
	OutcomeRejected     Outcome = "rejected"
	OutcomeUnrecognized Outcome = "unrecognized"
	OutcomeEmpty        Outcome = "empty"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeMalformed    Outcome = "malformed"
	OutcomePanic        Outcome = "panic"
)

// Result is the output of processing one raw record.
type Result struct {
	Event    *Event
	Metadata []MetadataUpdate
	Outcome  Outcome
}

// Input is a single raw payload with its monotonic arrival time.
type Input struct {
	Payload []byte
	Time    time.Time
}

// EventCounts tracks the number of each emitted event type.
type EventCounts struct {
	Short    int
	Long     int
	Dial     int
	Combined int
}

// Add counts e.
func (c *EventCounts) Add(e Event) {
	switch e.Kind {
	case KindButton:
		if e.Button.Press == PressLong {
			c.Long++
		} else {
			c.Short++
		}
	case KindDial:
		c.Dial++
	case KindCombined:
		c.Combined++
	}
}

// Total returns the number of events of every type.
func (c EventCounts) Total() int {
	return c.Short + c.Long + c.Dial + c.Combined
}
