package rtpmidi

// MIDIHandler receives one decoded MIDI message or reassembled SysEx
// message at a time. user is whatever opaque value was passed to
// SetCallback, unchanged; length is always len(bytes) but is kept as
// its own parameter to match the decoded-event contract. timestamp is
// the local clock value (100µs units) at which the carrying datagram was
// received, plus the delta-times decoded before the message in that
// datagram.
type MIDIHandler func(user any, length int, bytes []byte, timestamp uint32)

func (e *Endpoint) deliver(bytes []byte, timestamp uint32) {
	e.mu.Lock()
	h, user := e.handler, e.handlerUser
	e.mu.Unlock()
	if h == nil {
		return
	}
	h(user, len(bytes), bytes, timestamp)
}
