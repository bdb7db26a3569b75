package logic

// ButtonState tracks one button between its press and release.
type ButtonState struct {
	// Down is true between a press/hold and the matching release.
	Down bool
	// Rotated is true if the dial turned while the button was down.
	// Never true while Down is false.
	Rotated bool
}

// Buttons is the per-device button table, indexed by Button-1.
type Buttons [NumButtons]ButtonState

// MarkDown records a press or hold. Repeated down signals for the same
// physical press are ignored and keep Rotated as it is.
func (t *Buttons) MarkDown(b Button) {
	s := &t[b.index()]
	if s.Down {
		return
	}
	s.Down = true
	s.Rotated = false
}

// MarkRotated flags a held button as consumed by rotation.
func (t *Buttons) MarkRotated(b Button) {
	s := &t[b.index()]
	if s.Down {
		s.Rotated = true
	}
}

// Release clears the button and returns whether it was rotated while down.
func (t *Buttons) Release(b Button) (wasRotated bool) {
	s := &t[b.index()]
	wasRotated = s.Rotated
	s.Down = false
	s.Rotated = false
	return wasRotated
}

// Held returns the buttons currently down, lowest number first.
func (t Buttons) Held() []Button {
	var held []Button
	for i, s := range t {
		if s.Down {
			held = append(held, Button(i+1))
		}
	}
	return held
}

// State returns the state of b.
func (t Buttons) State(b Button) ButtonState {
	return t[b.index()]
}
