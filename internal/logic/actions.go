package logic

import (
	"fmt"
	"strconv"
	"strings"
)

// ActionKind classifies a raw action string.
type ActionKind int

const (
	ActionPress ActionKind = iota + 1
	ActionPressRelease
	ActionHold
	ActionHoldRelease
	ActionBrightnessStep
	ActionRotate
	ActionRotateStep
)

// Action is a parsed raw action string.
type Action struct {
	Kind      ActionKind
	Button    Button    // button actions only
	Direction Direction // step and rotate actions
	Speed     Speed     // rotate actions only
}

// Raw action vocabulary published by zigbee2mqtt for the RDM002.
const (
	actionBrightnessStepUp   = "brightness_step_up"
	actionBrightnessStepDown = "brightness_step_down"
	buttonPrefix             = "button_"
	dialRotatePrefix         = "dial_rotate_"
)

var buttonSuffixes = map[string]ActionKind{
	"press":         ActionPress,
	"press_release": ActionPressRelease,
	"hold":          ActionHold,
	"hold_release":  ActionHoldRelease,
}

// ParseAction maps a raw action string onto the vocabulary. Button numbers are
// validated here so that nothing downstream sees an out-of-range button.
func ParseAction(s string) (Action, error) {
	switch s {
	case actionBrightnessStepUp:
		return Action{Kind: ActionBrightnessStep, Direction: DirectionUp}, nil
	case actionBrightnessStepDown:
		return Action{Kind: ActionBrightnessStep, Direction: DirectionDown}, nil
	}

	if rest, ok := strings.CutPrefix(s, buttonPrefix); ok {
		return parseButtonAction(s, rest)
	}
	if rest, ok := strings.CutPrefix(s, dialRotatePrefix); ok {
		return parseRotateAction(s, rest)
	}
	return Action{}, fmt.Errorf("%w: %q", ErrUnrecognizedAction, s)
}

// parseButtonAction handles "button_<n>_<suffix>".
func parseButtonAction(s, rest string) (Action, error) {
	num, suffix, ok := strings.Cut(rest, "_")
	if !ok {
		return Action{}, fmt.Errorf("%w: %q", ErrUnrecognizedAction, s)
	}
	kind, ok := buttonSuffixes[suffix]
	if !ok {
		return Action{}, fmt.Errorf("%w: %q", ErrUnrecognizedAction, s)
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return Action{}, fmt.Errorf("%w: %q", ErrUnrecognizedAction, s)
	}
	b := Button(n)
	if !b.Valid() {
		return Action{}, fmt.Errorf("%w: %w: %d in %q", ErrUnrecognizedAction, ErrInvalidButton, n, s)
	}
	return Action{Kind: kind, Button: b}, nil
}

// parseRotateAction handles "dial_rotate_<left|right>_<slow|fast|step>".
func parseRotateAction(s, rest string) (Action, error) {
	side, tail, ok := strings.Cut(rest, "_")
	if !ok {
		return Action{}, fmt.Errorf("%w: %q", ErrUnrecognizedAction, s)
	}

	var dir Direction
	switch side {
	case "right":
		dir = DirectionUp
	case "left":
		dir = DirectionDown
	default:
		return Action{}, fmt.Errorf("%w: %q", ErrUnrecognizedAction, s)
	}

	switch tail {
	case "slow":
		return Action{Kind: ActionRotate, Direction: dir, Speed: SpeedSlow}, nil
	case "fast":
		return Action{Kind: ActionRotate, Direction: dir, Speed: SpeedFast}, nil
	}
	if strings.HasPrefix(tail, "step") {
		return Action{Kind: ActionRotateStep, Direction: dir}, nil
	}
	return Action{}, fmt.Errorf("%w: %q", ErrUnrecognizedAction, s)
}
