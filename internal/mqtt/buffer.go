package mqtt

// pendingMsg is a serialized publish held back while the broker is unreachable.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO of pending publishes. When full, the oldest
// message is overwritten. Not safe for concurrent use.
type outbox struct {
	msgs    []pendingMsg
	next    int // next write position
	count   int
	dropped int // messages overwritten since the last flush
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{msgs: make([]pendingMsg, capacity)}
}

// add queues msg. It reports true only for the first overwrite since the last
// flush, so the caller can log once per outage.
func (o *outbox) add(msg pendingMsg) bool {
	full := o.count == len(o.msgs)
	o.msgs[o.next] = msg
	o.next = (o.next + 1) % len(o.msgs)
	if !full {
		o.count++
		return false
	}
	o.dropped++
	return o.dropped == 1
}

// flush returns the queued messages oldest first and empties the outbox.
func (o *outbox) flush() []pendingMsg {
	if o.count == 0 {
		return nil
	}
	size := len(o.msgs)
	start := (o.next - o.count + size) % size
	out := make([]pendingMsg, 0, o.count)
	for i := 0; i < o.count; i++ {
		out = append(out, o.msgs[(start+i)%size])
	}
	o.next, o.count, o.dropped = 0, 0, 0
	return out
}

func (o *outbox) len() int {
	return o.count
}
