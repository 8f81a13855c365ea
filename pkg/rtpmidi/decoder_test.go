package rtpmidi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(d *decoder) *[][]byte {
	msgs := &[][]byte{}
	d.handler = func(_ any, _ int, bytes []byte, _ uint32) {
		cp := append([]byte(nil), bytes...)
		*msgs = append(*msgs, cp)
	}
	return msgs
}

func TestDecoderRunningStatus(t *testing.T) {
	d := newDecoder(DefaultSysExInSize)
	msgs := collect(d)

	// Z=false: no delta before the first event. Note-on, then a second
	// note-on via running status (no repeated status byte) preceded by
	// a delta-time.
	payload := []byte{0x90, 0x40, 0x7F, 0x00, 0x41, 0x7F}
	d.decodePacket(payload, false, 100)

	require.Len(t, *msgs, 2)
	assert.Equal(t, []byte{0x90, 0x40, 0x7F}, (*msgs)[0])
	assert.Equal(t, []byte{0x90, 0x41, 0x7F}, (*msgs)[1])
}

func TestDecoderSongPositionPointerKeepsItsOwnStatusByte(t *testing.T) {
	d := newDecoder(DefaultSysExInSize)
	msgs := collect(d)

	// A channel-voice running status is active, then a System Common
	// message (0xF2, Song Position Pointer) arrives, which must clear
	// running status but still be emitted with status byte 0xF2 itself
	// rather than whatever running status was active a moment before.
	payload := []byte{0x90, 0x40, 0x7F, 0x00, 0xF2, 0x10, 0x20}
	d.decodePacket(payload, false, 0)

	require.Len(t, *msgs, 2)
	assert.Equal(t, []byte{0xF2, 0x10, 0x20}, (*msgs)[1])
}

func TestDecoderSysExSinglePacket(t *testing.T) {
	d := newDecoder(DefaultSysExInSize)
	msgs := collect(d)

	payload := []byte{0xF0, 0x01, 0x02, 0x03, 0xF7}
	d.decodePacket(payload, false, 0)

	require.Len(t, *msgs, 1)
	assert.Equal(t, []byte{0xF0, 0x01, 0x02, 0x03, 0xF7}, (*msgs)[0])
	assert.False(t, d.sysexActive)
}

func TestDecoderSysExSegmentedAcrossPackets(t *testing.T) {
	d := newDecoder(DefaultSysExInSize)
	msgs := collect(d)

	d.decodePacket([]byte{0xF0, 0x01, 0xF0}, false, 0)
	assert.True(t, d.sysexActive)
	assert.Empty(t, *msgs)

	d.decodePacket([]byte{0xF7, 0x02, 0xF7}, false, 0)
	require.Len(t, *msgs, 1)
	assert.Equal(t, []byte{0xF0, 0x01, 0x02, 0xF7}, (*msgs)[0])
	assert.False(t, d.sysexActive)
}

func TestDecoderRealTimeInsideSysEx(t *testing.T) {
	d := newDecoder(DefaultSysExInSize)
	msgs := collect(d)

	payload := []byte{0xF0, 0x01, 0xF8, 0x02, 0xF7}
	d.decodePacket(payload, false, 0)

	require.Len(t, *msgs, 2)
	assert.Equal(t, []byte{0xF8}, (*msgs)[0])
	assert.Equal(t, []byte{0xF0, 0x01, 0x02, 0xF7}, (*msgs)[1])
}

func TestDecoderSysExOverflowDeliversTruncated(t *testing.T) {
	d := newDecoder(2)
	msgs := collect(d)

	payload := []byte{0xF0, 0x01, 0x02, 0x03, 0x04, 0xF7}
	d.decodePacket(payload, false, 0)

	require.Len(t, *msgs, 1, "an overflowed SysEx is still delivered, just truncated")
	assert.Equal(t, []byte{0xF0, 0x01}, (*msgs)[0])
	assert.False(t, d.sysexActive)
}

func TestDecoderSysExCancelDiscardsBuffer(t *testing.T) {
	d := newDecoder(DefaultSysExInSize)
	msgs := collect(d)

	// 0xF4 ends the SysEx run the same way 0xF7 would, so the note-on
	// that follows is a new top-level command and needs its own
	// delta-time (0x00) ahead of it.
	payload := []byte{0xF0, 0x01, 0x02, 0xF4, 0x00, 0x90, 0x40, 0x7F}
	d.decodePacket(payload, false, 0)

	require.Len(t, *msgs, 1, "the cancelled SysEx never reaches the callback")
	assert.Equal(t, []byte{0x90, 0x40, 0x7F}, (*msgs)[0])
	assert.False(t, d.sysexActive)
}

func TestDecoderSysExCorruptedByStrayStatusReprocessesTheByte(t *testing.T) {
	d := newDecoder(DefaultSysExInSize)
	msgs := collect(d)

	// A note-on arrives mid-SysEx without an intervening F7: the buffer
	// is corrupt and gets discarded, but the note-on itself must still
	// decode as an ordinary event rather than being swallowed as data.
	payload := []byte{0xF0, 0x01, 0x02, 0x90, 0x40, 0x7F}
	d.decodePacket(payload, false, 0)

	require.Len(t, *msgs, 1)
	assert.Equal(t, []byte{0x90, 0x40, 0x7F}, (*msgs)[0])
	assert.False(t, d.sysexActive)
}

func TestDecodeVLQ(t *testing.T) {
	v, n := decodeVLQ([]byte{0x00})
	assert.Equal(t, uint32(0), v)
	assert.Equal(t, 1, n)

	v, n = decodeVLQ([]byte{0x81, 0x00})
	assert.Equal(t, uint32(0x80), v)
	assert.Equal(t, 2, n)
}
