package rtpmidi

import (
	"encoding/binary"

	"github.com/pion/rtp"
)

// MaxRTPLoad bounds how many MIDI command-list bytes one RTP-MIDI datagram
// carries.
const MaxRTPLoad = 1024

// rtpMIDIPayloadType is the RTP payload type registered for RTP-MIDI
// (RFC 6295), encoded as the second signature byte 0x61.
const rtpMIDIPayloadType = 0x61

// longHeaderBBit marks the 2-byte payload-control form (B=1); this
// encoder always uses the long form regardless of payload length.
const longHeaderBBit = 0x8000

// encoder drains the outbound ring into one RTP-MIDI datagram per Tick
// while the session is OPENED. A SysEx-shaped block bigger than
// MaxRTPLoad is pulled whole out of the ring and re-split across several
// datagrams via FragmentSysEx, using the same segment-pause/resume
// convention the decoder reassembles; everything else is drained as a
// flat run of command-list bytes.
type encoder struct {
	ring         *outboundRing
	seq          uint16
	fragmentSize int
	pending      [][]byte // queued SysEx fragments still waiting to go out
}

func newEncoder(ring *outboundRing, fragmentSize uint32) *encoder {
	if fragmentSize == 0 {
		fragmentSize = DefaultSysExOutFragmentSize
	}
	return &encoder{ring: ring, fragmentSize: int(fragmentSize)}
}

// emit builds the next outgoing datagram, or returns ok=false if there is
// nothing to send (no sequence number is consumed in that case).
func (e *encoder) emit(timestamp, ssrc uint32) (datagram []byte, ok bool) {
	payload, ok := e.nextPayload()
	if !ok {
		return nil, false
	}

	header := rtp.Header{
		Version: 2,
		// Marker left false: isRTPMIDI matches the literal wire bytes
		// 0x80 0x61, which requires the marker bit clear. See DESIGN.md
		// open question 5.
		Marker:         false,
		PayloadType:    rtpMIDIPayloadType,
		SequenceNumber: e.seq,
		Timestamp:      timestamp,
		SSRC:           ssrc,
	}
	headerBytes, err := header.Marshal()
	if err != nil {
		return nil, false
	}

	control := longHeaderBBit | uint16(len(payload)&0x0FFF)
	out := make([]byte, 0, len(headerBytes)+2+len(payload))
	out = append(out, headerBytes...)
	out = binary.BigEndian.AppendUint16(out, control)
	out = append(out, payload...)

	e.seq++
	return out, true
}

// nextPayload returns the command-list bytes for the next datagram: the
// next queued SysEx fragment if one is pending, otherwise whatever the
// ring has next. A SysEx message that starts the ring and doesn't fit
// in one payload is pulled out whole and fragmented instead of being
// truncated mid-message.
func (e *encoder) nextPayload() ([]byte, bool) {
	if len(e.pending) > 0 {
		p := e.pending[0]
		e.pending = e.pending[1:]
		return p, true
	}

	scratch := make([]byte, e.ring.capacity())
	n := e.ring.peek(scratch)
	if n == 0 {
		return nil, false
	}
	scratch = scratch[:n]

	if scratch[0] == 0xF0 {
		if end := findSysExEnd(scratch); end >= 0 && end+1 > MaxRTPLoad {
			message := append([]byte(nil), scratch[:end+1]...)
			e.ring.advance(len(message))
			e.pending = FragmentSysEx(message, e.fragmentSize)
			if len(e.pending) == 0 {
				return nil, false
			}
			p := e.pending[0]
			e.pending = e.pending[1:]
			return p, true
		}
	}

	limit := n
	if limit > MaxRTPLoad {
		limit = MaxRTPLoad
	}
	out := append([]byte(nil), scratch[:limit]...)
	e.ring.advance(limit)
	return out, true
}

// findSysExEnd returns the index of the first 0xF7 in b, or -1 if the
// peeked window doesn't contain one yet.
func findSysExEnd(b []byte) int {
	for i, v := range b {
		if v == 0xF7 {
			return i
		}
	}
	return -1
}
