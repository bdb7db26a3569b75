package logic

// Sink receives normalized events and metadata updates. The classifier has
// no knowledge of what a sink does with them.
type Sink interface {
	OnButtonEvent(deviceID string, e ButtonEvent)
	OnDialEvent(deviceID string, e DialEvent)
	OnCombinedEvent(deviceID string, e CombinedEvent)
	OnMetadataUpdate(deviceID string, field MetadataField, value any)
}

// Dispatch delivers a Result to sink: metadata first, then the event.
func Dispatch(sink Sink, deviceID string, res Result) {
	for _, m := range res.Metadata {
		sink.OnMetadataUpdate(deviceID, m.Field, m.Value)
	}
	if res.Event == nil {
		return
	}
	switch res.Event.Kind {
	case KindButton:
		sink.OnButtonEvent(deviceID, *res.Event.Button)
	case KindDial:
		sink.OnDialEvent(deviceID, *res.Event.Dial)
	case KindCombined:
		sink.OnCombinedEvent(deviceID, *res.Event.Combined)
	}
}

// MultiSink fans out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) OnButtonEvent(deviceID string, e ButtonEvent) {
	for _, s := range m {
		s.OnButtonEvent(deviceID, e)
	}
}

func (m MultiSink) OnDialEvent(deviceID string, e DialEvent) {
	for _, s := range m {
		s.OnDialEvent(deviceID, e)
	}
}

func (m MultiSink) OnCombinedEvent(deviceID string, e CombinedEvent) {
	for _, s := range m {
		s.OnCombinedEvent(deviceID, e)
	}
}

func (m MultiSink) OnMetadataUpdate(deviceID string, field MetadataField, value any) {
	for _, s := range m {
		s.OnMetadataUpdate(deviceID, field, value)
	}
}

// EventOf wraps a typed event back into the Event union. Sinks that forward
// events generically use it.
func EventOf(e any) Event {
	switch v := e.(type) {
	case ButtonEvent:
		return Event{Kind: KindButton, Button: &v}
	case DialEvent:
		return Event{Kind: KindDial, Dial: &v}
	case CombinedEvent:
		return Event{Kind: KindCombined, Combined: &v}
	}
	return Event{}
}
