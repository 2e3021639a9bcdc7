package mqtt

// DefaultBufferSize is how many messages are held while the broker is away.
const DefaultBufferSize = 256

// outboundMsg is one serialized publish.
type outboundMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds the newest messages published during an outage. Once full,
// each new message evicts the oldest and is counted as a drop. The caller
// synchronizes.
type outbox struct {
	msgs    []outboundMsg
	oldest  int
	dropped int
}

func newOutbox(size int) *outbox {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &outbox{msgs: make([]outboundMsg, 0, size)}
}

// add queues msg and returns how many messages the outage has cost so far.
func (o *outbox) add(msg outboundMsg) (dropped int) {
	if len(o.msgs) < cap(o.msgs) {
		o.msgs = append(o.msgs, msg)
		return o.dropped
	}
	o.msgs[o.oldest] = msg
	o.oldest = (o.oldest + 1) % len(o.msgs)
	o.dropped++
	return o.dropped
}

// flush empties the outbox, returning the queued messages oldest first
// and the number evicted since the last flush.
func (o *outbox) flush() (msgs []outboundMsg, dropped int) {
	if len(o.msgs) > 0 {
		msgs = make([]outboundMsg, 0, len(o.msgs))
		msgs = append(msgs, o.msgs[o.oldest:]...)
		msgs = append(msgs, o.msgs[:o.oldest]...)
	}
	dropped = o.dropped
	o.msgs = o.msgs[:0]
	o.oldest = 0
	o.dropped = 0
	return msgs, dropped
}

func (o *outbox) size() int {
	return len(o.msgs)
}

func (o *outbox) capacity() int {
	return cap(o.msgs)
}
