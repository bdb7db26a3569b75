package logic

import "errors"

var (
	// ErrMalformedPayload is returned when a payload is not a JSON object.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnrecognizedAction is returned by ParseAction for actions outside the
	// known vocabulary. Callers drop such records silently.
	ErrUnrecognizedAction = errors.New("unrecognized action")

	// ErrInvalidButton is returned by ParseAction when a button action names a
	// button outside 1..NumButtons.
	ErrInvalidButton = errors.New("invalid button number")
)
