package logic

import "errors"

// bogusStep is the full-scale delta/step pair zigbee2mqtt sometimes reports
// for brightness steps that did not happen.
const bogusStep = 255

// Classifier maps raw actions onto normalized events. It owns the button
// table; nothing else reads or writes it. Not safe for concurrent use.
type Classifier struct {
	buttons Buttons
}

// NewClassifier creates a Classifier with all buttons up.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Process classifies one raw action. Metadata is extracted independently of
// the action; at most one event is produced.
func (c *Classifier) Process(a RawAction) Result {
	ev, outcome := c.classify(a)
	return Result{
		Event:    ev,
		Metadata: extractMetadata(a),
		Outcome:  outcome,
	}
}

// Buttons returns a copy of the button table.
func (c *Classifier) Buttons() Buttons {
	return c.buttons
}

func (c *Classifier) classify(a RawAction) (*Event, Outcome) {
	if a.Action == "" {
		return nil, OutcomeEmpty
	}
	act, err := ParseAction(a.Action)
	if err != nil {
		if errors.Is(err, ErrUnrecognizedAction) {
			return nil, OutcomeUnrecognized
		}
		return nil, OutcomeRejected
	}

	switch act.Kind {
	case ActionPress, ActionHold:
		c.buttons.MarkDown(act.Button)
		return nil, OutcomeStateOnly

	case ActionPressRelease, ActionHoldRelease:
		if c.buttons.Release(act.Button) {
			return nil, OutcomeSuppressed
		}
		press := PressShort
		if act.Kind == ActionHoldRelease {
			press = PressLong
		}
		return &Event{
			Kind: KindButton,
			Button: &ButtonEvent{
				Button:   act.Button,
				Press:    press,
				Duration: a.Duration.Ptr(),
			},
		}, OutcomeEmitted

	case ActionBrightnessStep:
		if a.BrightnessDelta.Valid && a.StepSize.Valid &&
			abs(a.BrightnessDelta.Int()) == bogusStep && a.StepSize.Int() == bogusStep {
			return nil, OutcomeRejected
		}
		delta := a.BrightnessDelta.Int()
		if delta == 0 {
			return nil, OutcomeRejected
		}
		return c.rotation(act.Direction, "", delta, a.Brightness.Ptr()), OutcomeEmitted

	case ActionRotate:
		if !a.BrightnessDelta.Set || !a.BrightnessDelta.Valid {
			return nil, OutcomeRejected
		}
		return c.rotation(act.Direction, act.Speed, a.BrightnessDelta.Int(), a.Brightness.Ptr()), OutcomeEmitted

	case ActionRotateStep:
		return nil, OutcomeRejected
	}
	return nil, OutcomeUnrecognized
}

// rotation resolves a dial turn against the held buttons. The lowest-numbered
// held button wins and is marked rotated so its release is suppressed.
func (c *Classifier) rotation(dir Direction, speed Speed, delta int, brightness *float64) *Event {
	if held := c.buttons.Held(); len(held) > 0 {
		b := held[0]
		c.buttons.MarkRotated(b)
		return &Event{
			Kind: KindCombined,
			Combined: &CombinedEvent{
				HeldButton: b,
				Direction:  dir,
				Speed:      speed,
				Delta:      delta,
				AbsDelta:   uint(abs(delta)),
				Brightness: brightness,
			},
		}
	}
	return &Event{
		Kind: KindDial,
		Dial: &DialEvent{
			Direction:  dir,
			Speed:      speed,
			Delta:      delta,
			AbsDelta:   uint(abs(delta)),
			Brightness: brightness,
		},
	}
}

// extractMetadata collects attribute updates in a fixed order.
func extractMetadata(a RawAction) []MetadataUpdate {
	var out []MetadataUpdate
	if a.Battery.Valid {
		out = append(out, MetadataUpdate{Field: FieldBattery, Value: a.Battery.Value})
	}
	if a.LinkQuality.Valid {
		out = append(out, MetadataUpdate{Field: FieldLinkQuality, Value: a.LinkQuality.Value})
	}
	if fw := a.Firmware; fw != nil {
		if fw.InstalledVersion != nil {
			out = append(out, MetadataUpdate{Field: FieldInstalledVersion, Value: *fw.InstalledVersion})
		}
		if fw.LatestVersion != nil {
			out = append(out, MetadataUpdate{Field: FieldLatestVersion, Value: *fw.LatestVersion})
		}
		out = append(out, MetadataUpdate{Field: FieldUpdateAvailable, Value: fw.UpdateAvailable})
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
