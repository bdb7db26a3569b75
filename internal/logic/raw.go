package logic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Number is an optional numeric payload field.
type Number struct {
	// Set is true when the key was present in the payload, whatever its value.
	Set bool
	// Valid is true when the value parsed as a number (or numeric string).
	Valid bool
	Value float64
}

// Int returns the value truncated toward zero, or 0 when not Valid.
func (n Number) Int() int {
	if !n.Valid {
		return 0
	}
	return int(n.Value)
}

// Ptr returns a pointer to a copy of the value, or nil when not Valid.
func (n Number) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// Firmware is the nested update block published by zigbee2mqtt.
type Firmware struct {
	InstalledVersion *string
	LatestVersion    *string
	UpdateAvailable  bool
}

// RawAction is a decoded device payload.
type RawAction struct {
	Action          string
	Brightness      Number
	BrightnessDelta Number
	StepSize        Number
	Duration        Number
	Battery         Number
	LinkQuality     Number
	// Firmware is nil unless the payload carried an "update" object.
	Firmware *Firmware
}

// Decode parses a device payload. It fails with ErrMalformedPayload only when
// the payload is not a JSON object; missing or oddly typed fields are tolerated.
func Decode(payload []byte) (RawAction, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return RawAction{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if obj == nil {
		return RawAction{}, fmt.Errorf("%w: payload is null", ErrMalformedPayload)
	}

	var a RawAction
	if raw, ok := obj["action"]; ok {
		// Non-string actions are treated as absent.
		_ = json.Unmarshal(raw, &a.Action)
	}
	a.Brightness = number(obj, "brightness")
	a.BrightnessDelta = number(obj, "action_brightness_delta")
	a.StepSize = number(obj, "action_step_size")
	a.Duration = number(obj, "action_duration")
	a.Battery = number(obj, "battery")
	a.LinkQuality = number(obj, "linkquality")
	a.Firmware = firmware(obj)
	return a, nil
}

func number(obj map[string]json.RawMessage, key string) Number {
	raw, ok := obj[key]
	if !ok {
		return Number{}
	}
	n := Number{Set: true}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return n
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		n.Valid = true
		n.Value = f
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			n.Valid = true
			n.Value = f
		}
	}
	return n
}

func firmware(obj map[string]json.RawMessage) *Firmware {
	raw, ok := obj["update"]
	if !ok {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var upd map[string]any
	if err := dec.Decode(&upd); err != nil || upd == nil {
		return nil
	}

	fw := &Firmware{
		InstalledVersion: versionString(upd, "installed_version"),
		LatestVersion:    versionString(upd, "latest_version"),
	}
	state, _ := upd["state"].(string)
	fw.UpdateAvailable = state == "available"

	// A top-level flag, when present, wins over the update state.
	if rawAvail, ok := obj["update_available"]; ok {
		var avail bool
		if err := json.Unmarshal(rawAvail, &avail); err == nil {
			fw.UpdateAvailable = avail
		}
	}
	return fw
}

func versionString(upd map[string]any, key string) *string {
	v, ok := upd[key]
	if !ok || v == nil {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	return &s
}
