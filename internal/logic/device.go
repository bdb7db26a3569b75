package logic

import "time"

// Device is the processing state for one controller: a deduplicator in front
// of a classifier. Records must be fed in arrival order.
type Device struct {
	dedup      *Deduplicator
	classifier *Classifier
	counts     EventCounts
}

// NewDevice creates a Device with the given deduplication window.
func NewDevice(debounce time.Duration) *Device {
	return &Device{
		dedup:      NewDeduplicator(debounce),
		classifier: NewClassifier(),
	}
}

// Process decodes, deduplicates and classifies one payload.
// The only error is a wrapped ErrMalformedPayload.
func (d *Device) Process(in Input) (Result, error) {
	a, err := Decode(in.Payload)
	if err != nil {
		return Result{Outcome: OutcomeMalformed}, err
	}

	// Records without an action still carry battery and link quality.
	if a.Action == "" {
		return d.classifier.Process(a), nil
	}

	if !d.dedup.Accept(a.Action, in.Time) {
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	res := d.classifier.Process(a)
	if res.Event != nil {
		d.counts.Add(*res.Event)
	}
	return res, nil
}

// Buttons returns a copy of the button table.
func (d *Device) Buttons() Buttons {
	return d.classifier.Buttons()
}

// EventCounts returns the number of events emitted so far.
func (d *Device) EventCounts() EventCounts {
	return d.counts
}
