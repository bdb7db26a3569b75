package logic

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeFields(t *testing.T) {
	a, err := Decode([]byte(`{
		"action":"brightness_step_up",
		"action_brightness_delta":"-12",
		"action_step_size":12,
		"brightness":101,
		"action_duration":0.8,
		"unknown_field":{"nested":true}
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Action != "brightness_step_up" {
		t.Errorf("action: got %q", a.Action)
	}
	if !a.BrightnessDelta.Valid || a.BrightnessDelta.Int() != -12 {
		t.Errorf("delta: got %+v, want -12 from numeric string", a.BrightnessDelta)
	}
	if a.StepSize.Int() != 12 {
		t.Errorf("step size: got %+v", a.StepSize)
	}
	if p := a.Brightness.Ptr(); p == nil || *p != 101 {
		t.Errorf("brightness: got %v", p)
	}
	if p := a.Duration.Ptr(); p == nil || *p != 0.8 {
		t.Errorf("duration: got %v", p)
	}
	if a.Battery.Set || a.Firmware != nil {
		t.Errorf("expected absent battery and firmware, got %+v %+v", a.Battery, a.Firmware)
	}
}

func TestDecodeMissingAction(t *testing.T) {
	for _, p := range []string{`{}`, `{"action":null}`, `{"action":7}`, `{"action":""}`} {
		a, err := Decode([]byte(p))
		if err != nil {
			t.Errorf("%s: unexpected error: %v", p, err)
		}
		if a.Action != "" {
			t.Errorf("%s: expected empty action, got %q", p, a.Action)
		}
	}
}

func TestDecodeNonNumericFields(t *testing.T) {
	a, err := Decode([]byte(`{"action":"x","action_brightness_delta":"abc","battery":null}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.BrightnessDelta.Set || a.BrightnessDelta.Valid {
		t.Errorf("delta: got %+v, want set but invalid", a.BrightnessDelta)
	}
	if a.BrightnessDelta.Int() != 0 {
		t.Errorf("invalid delta should coerce to 0, got %d", a.BrightnessDelta.Int())
	}
	if !a.Battery.Set || a.Battery.Valid {
		t.Errorf("battery: got %+v, want set but invalid", a.Battery)
	}
}

func TestDecodeNullNumbers(t *testing.T) {
	a, err := Decode([]byte(`{"action":"dial_rotate_left_slow","action_brightness_delta":null,"brightness": null ,"linkquality":null}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for name, n := range map[string]Number{
		"delta":       a.BrightnessDelta,
		"brightness":  a.Brightness,
		"linkquality": a.LinkQuality,
	} {
		if !n.Set || n.Valid {
			t.Errorf("%s: got %+v, want set but invalid", name, n)
		}
		if n.Ptr() != nil {
			t.Errorf("%s: null should not yield a value", name)
		}
	}
}

func TestDecodeFirmware(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantNil   bool
		installed string
		latest    string
		available bool
	}{
		{
			name:      "state available",
			payload:   `{"update":{"installed_version":1,"latest_version":2,"state":"available"}}`,
			installed: "1", latest: "2", available: true,
		},
		{
			name:      "state idle",
			payload:   `{"update":{"installed_version":"1.2.3","state":"idle"}}`,
			installed: "1.2.3",
		},
		{
			name:      "top-level flag wins",
			payload:   `{"update_available":false,"update":{"state":"available"}}`,
			available: false,
		},
		{
			name:    "not an object",
			payload: `{"update":"available"}`,
			wantNil: true,
		},
		{
			name:    "flag without block",
			payload: `{"update_available":true}`,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Decode([]byte(tt.payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil {
				if a.Firmware != nil {
					t.Errorf("expected no firmware block, got %+v", a.Firmware)
				}
				return
			}
			if a.Firmware == nil {
				t.Fatal("expected firmware block")
			}
			if got := deref(a.Firmware.InstalledVersion); got != tt.installed {
				t.Errorf("installed: got %q, want %q", got, tt.installed)
			}
			if got := deref(a.Firmware.LatestVersion); got != tt.latest {
				t.Errorf("latest: got %q, want %q", got, tt.latest)
			}
			if a.Firmware.UpdateAvailable != tt.available {
				t.Errorf("available: got %v, want %v", a.Firmware.UpdateAvailable, tt.available)
			}
		})
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in   string
		want Action
	}{
		{"button_1_press", Action{Kind: ActionPress, Button: 1}},
		{"button_2_press_release", Action{Kind: ActionPressRelease, Button: 2}},
		{"button_3_hold", Action{Kind: ActionHold, Button: 3}},
		{"button_4_hold_release", Action{Kind: ActionHoldRelease, Button: 4}},
		{"brightness_step_up", Action{Kind: ActionBrightnessStep, Direction: DirectionUp}},
		{"brightness_step_down", Action{Kind: ActionBrightnessStep, Direction: DirectionDown}},
		{"dial_rotate_right_slow", Action{Kind: ActionRotate, Direction: DirectionUp, Speed: SpeedSlow}},
		{"dial_rotate_left_fast", Action{Kind: ActionRotate, Direction: DirectionDown, Speed: SpeedFast}},
		{"dial_rotate_left_step", Action{Kind: ActionRotateStep, Direction: DirectionDown}},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseActionInvalidButton(t *testing.T) {
	_, err := ParseAction("button_9_press")
	if !errors.Is(err, ErrUnrecognizedAction) {
		t.Errorf("expected ErrUnrecognizedAction, got %v", err)
	}
	if !errors.Is(err, ErrInvalidButton) {
		t.Errorf("expected ErrInvalidButton, got %v", err)
	}
}

func TestDeduplicator(t *testing.T) {
	d := NewDeduplicator(100 * time.Millisecond)

	if !d.Accept("a", t0) {
		t.Error("first action should be accepted")
	}
	if d.Accept("a", t0.Add(99*time.Millisecond)) {
		t.Error("repeat within window should be suppressed")
	}
	// Suppression does not extend the window.
	if !d.Accept("a", t0.Add(100*time.Millisecond)) {
		t.Error("repeat at window boundary should be accepted")
	}
	if !d.Accept("b", t0.Add(110*time.Millisecond)) {
		t.Error("different action should be accepted")
	}
	if !d.Accept("a", t0.Add(120*time.Millisecond)) {
		t.Error("action after a different one should be accepted")
	}
}

func TestDeduplicatorDefaultWindow(t *testing.T) {
	if w := NewDeduplicator(0).Window(); w != DefaultDebounce {
		t.Errorf("window: got %v, want %v", w, DefaultDebounce)
	}
}

func TestButtonTable(t *testing.T) {
	var b Buttons

	b.MarkRotated(1)
	if b.State(1).Rotated {
		t.Error("rotated set on a button that is up")
	}

	b.MarkDown(3)
	b.MarkDown(1)
	held := b.Held()
	if len(held) != 2 || held[0] != 1 || held[1] != 3 {
		t.Errorf("held: got %v, want [1 3]", held)
	}

	b.MarkRotated(1)
	b.MarkDown(1)
	if !b.State(1).Rotated {
		t.Error("MarkDown on a held button reset rotated")
	}

	if !b.Release(1) {
		t.Error("release should report rotation")
	}
	if s := b.State(1); s.Down || s.Rotated {
		t.Errorf("release should clear state, got %+v", s)
	}
	if b.Release(3) {
		t.Error("button 3 was never rotated")
	}
}

func TestButtonOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for button 5")
		}
	}()
	var b Buttons
	b.MarkDown(5)
}
