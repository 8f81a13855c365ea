package rtpmidi

// decoder turns one RTP-MIDI command-list payload into a sequence of
// complete MIDI messages, carrying running status and SysEx reassembly
// state across packets the way the data channel requires.
//
// The original AppleMIDI decoder (GenerateMIDIEvent) is written as a
// byte-at-a-time state machine that jumps back to its top with goto
// whenever it needs another input byte. Here the "goto NextByte" becomes
// the for loop's continue, and each goto target becomes a labelled
// branch inside the switch.
type decoder struct {
	sysExInSize uint32

	runningStatus byte // last channel-voice status byte seen; 0 = none

	// pendingStatus is the status byte of the channel/system-common
	// message currently being assembled. It is frozen the instant the
	// status byte (or a running-status data byte) arrives, and is what
	// gets written into the delivered message — deliberately a separate
	// field from runningStatus, which continues to track the *next*
	// running-status candidate. Using one field for both would emit the
	// wrong status byte for 0xF2 (Song Position Pointer): runningStatus
	// is cleared on arrival of any system-common status before the
	// message's data bytes are collected, so by the time the message
	// completes the status byte would already have been zeroed out.
	pendingStatus byte
	pendingData   [2]byte
	pendingHave   int // data bytes collected so far
	pendingWant   int // data bytes required to complete pendingStatus's message

	sysexBuf        []byte
	sysexActive     bool // between an unterminated 0xF0 and its 0xF7
	sysexSegmenting bool // this SysEx has already been paused once
	awaitingResume  bool // next byte must be the 0xF7 resume marker
	overflow        bool // sticky until the SysEx message finishes

	handler    MIDIHandler
	user       any
	onOverflow func() // called once when overflow transitions false -> true
}

func newDecoder(sysExInSize uint32) *decoder {
	return &decoder{sysExInSize: sysExInSize}
}

// decodePacket walks one command list. leadingDeltaPresent is the Z bit
// from the payload control word: when false, the first command carries
// no delta-time prefix. timestamp is the local clock reading at the
// moment this packet was received; each event's delivered timestamp is
// timestamp plus the sum of every delta-time decoded before it.
func (d *decoder) decodePacket(payload []byte, leadingDeltaPresent bool, timestamp uint32) {
	if d.sysexActive && d.sysexSegmenting {
		d.awaitingResume = true
	}

	pos := 0
	firstEvent := true
	var offset uint32
	for pos < len(payload) {
		if d.sysexActive {
			pos = d.consumeSysExByte(payload, pos, timestamp+offset)
			firstEvent = false
			continue
		}

		// A delta-time precedes a whole event, not each of its bytes:
		// only consume one when we're about to start a new event, i.e.
		// no message is already in progress.
		if d.pendingWant == 0 {
			needDelta := !firstEvent || leadingDeltaPresent
			firstEvent = false
			if needDelta {
				delta, consumed := decodeVLQ(payload[pos:])
				offset += delta
				pos += consumed
				if pos >= len(payload) {
					break
				}
			}
		}

		pos = d.consumeEventByte(payload, pos, timestamp+offset)
	}
}

// consumeSysExByte handles one byte while a SysEx is being reassembled.
func (d *decoder) consumeSysExByte(payload []byte, pos int, timestamp uint32) int {
	b := payload[pos]

	if d.awaitingResume {
		d.awaitingResume = false
		if b == 0xF7 {
			return pos + 1
		}
		// Malformed resume (no marker): fall through and treat the byte
		// as SysEx content rather than dropping it.
	}

	switch {
	case b == 0xF0:
		// Segment pause: more continuation packets follow.
		d.sysexSegmenting = true
		return pos + 1
	case b == 0xF7:
		// Always delivered, even truncated: the overflow flag tells the
		// caller the buffer was cut short, it doesn't suppress delivery.
		d.appendSysExByte(b)
		d.deliverSysEx(timestamp)
		d.resetSysEx()
		return pos + 1
	case b >= 0xF8:
		// Real-time message interleaved inside a SysEx: deliver it
		// immediately without disturbing SysEx reassembly.
		d.deliverSingle(b, timestamp)
		return pos + 1
	case b == 0xF4:
		// Cancel: whatever was collected so far is void.
		d.resetSysEx()
		return pos + 1
	case b >= 0x80:
		// Any other status arriving mid-SysEx means the buffer can't be
		// trusted: drop it and reprocess this byte as an ordinary event
		// rather than losing it inside a corrupted SysEx.
		d.resetSysEx()
		return d.consumeEventByte(payload, pos, timestamp)
	default:
		d.appendSysExByte(b)
		return pos + 1
	}
}

// appendSysExByte adds b to the reassembly buffer if there's room, or
// sets the sticky overflow flag the first time there isn't.
func (d *decoder) appendSysExByte(b byte) {
	if uint32(len(d.sysexBuf)) < d.sysExInSize {
		d.sysexBuf = append(d.sysexBuf, b)
		return
	}
	if !d.overflow {
		d.overflow = true
		if d.onOverflow != nil {
			d.onOverflow()
		}
	}
}

func (d *decoder) resetSysEx() {
	d.sysexBuf = nil
	d.sysexActive = false
	d.sysexSegmenting = false
	d.awaitingResume = false
	d.overflow = false
}

func (d *decoder) deliverSysEx(timestamp uint32) {
	if d.handler != nil {
		d.handler(d.user, len(d.sysexBuf), d.sysexBuf, timestamp)
	}
}

func (d *decoder) deliverSingle(b byte, timestamp uint32) {
	if d.handler != nil {
		msg := []byte{b}
		d.handler(d.user, 1, msg, timestamp)
	}
}

// consumeEventByte parses one MIDI event (status byte or running-status
// data byte) starting at pos, possibly consuming several bytes, and
// returns the position right after it.
func (d *decoder) consumeEventByte(payload []byte, pos int, timestamp uint32) int {
	b := payload[pos]

	if b < 0x80 {
		// Bare data byte: continuing either a running-status message or
		// one already in progress (pendingWant > 0).
		return d.feedData(b, pos+1, timestamp)
	}

	switch {
	case b == 0xF0:
		d.sysexActive = true
		d.sysexBuf = append(d.sysexBuf[:0], b)
		return pos + 1
	case b >= 0xF8:
		d.deliverSingle(b, timestamp)
		return pos + 1
	case b == 0xF7:
		// Stray end-of-exclusive with no matching start: drop it.
		return pos + 1
	default:
		d.startMessage(b, timestamp)
		return pos + 1
	}
}

// startMessage records a new status byte and how many data bytes its
// message needs, per the MIDI 1.0 channel/system-common tables.
func (d *decoder) startMessage(status byte, timestamp uint32) {
	d.pendingStatus = status
	d.pendingHave = 0
	switch status & 0xF0 {
	case 0x80, 0x90, 0xA0, 0xB0, 0xE0:
		d.pendingWant = 2
		d.runningStatus = status
	case 0xC0, 0xD0:
		d.pendingWant = 1
		d.runningStatus = status
	default:
		switch status {
		case 0xF2: // Song Position Pointer
			d.pendingWant = 2
		case 0xF1, 0xF3: // MTC quarter frame, Song Select
			d.pendingWant = 1
		case 0xF6: // Tune Request
			d.pendingWant = 0
		default:
			d.pendingWant = 0
		}
		// Any status byte other than a channel-voice one breaks running
		// status.
		d.runningStatus = 0
	}
	if d.pendingWant == 0 {
		d.emitPending(timestamp)
	}
}

// feedData treats b as the next data byte of the in-progress message,
// starting a fresh running-status message first if none was in
// progress, and returns pos unchanged (the caller already advanced it
// past b).
func (d *decoder) feedData(b byte, pos int, timestamp uint32) int {
	if d.pendingWant == 0 {
		// No message in progress and this data byte didn't follow a
		// fresh status byte: try running status.
		if d.runningStatus == 0 {
			return pos // nothing sensible to do; drop the byte
		}
		d.pendingStatus = d.runningStatus
		switch d.runningStatus & 0xF0 {
		case 0xC0, 0xD0:
			d.pendingWant = 1
		default:
			d.pendingWant = 2
		}
		d.pendingHave = 0
	}

	d.pendingData[d.pendingHave] = b
	d.pendingHave++
	if d.pendingHave < d.pendingWant {
		return pos
	}
	d.emitPending(timestamp)
	return pos
}

func (d *decoder) emitPending(timestamp uint32) {
	msg := make([]byte, 1+d.pendingWant)
	msg[0] = d.pendingStatus
	copy(msg[1:], d.pendingData[:d.pendingWant])
	d.pendingWant = 0
	d.pendingHave = 0
	if d.handler != nil {
		d.handler(d.user, len(msg), msg, timestamp)
	}
}

// decodeVLQ reads a variable-length quantity (up to 4 input bytes) and
// returns its value plus the number of bytes consumed.
func decodeVLQ(data []byte) (value uint32, consumed int) {
	for consumed = 0; consumed < len(data) && consumed < 4; consumed++ {
		b := data[consumed]
		value = (value << 7) | uint32(b&0x7F)
		if b&0x80 == 0 {
			consumed++
			break
		}
	}
	return value, consumed
}
