package rtpmidi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentSysExFitsInOneChunk(t *testing.T) {
	msg := []byte{0xF0, 0x01, 0x02, 0xF7}
	chunks := FragmentSysEx(msg, 64)
	require.Len(t, chunks, 1)
	assert.Equal(t, msg, chunks[0])
}

func TestFragmentSysExSplitsAndReassembles(t *testing.T) {
	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i % 0x70)
	}
	msg := append([]byte{0xF0}, append(payload, 0xF7)...)

	chunks := FragmentSysEx(msg, 6) // 4 payload bytes + 2 markers per chunk
	require.Greater(t, len(chunks), 1)

	d := newDecoder(DefaultSysExInSize)
	var got []byte
	d.handler = func(_ any, _ int, bytes []byte, _ uint32) {
		got = append([]byte(nil), bytes...)
	}
	for _, c := range chunks {
		d.decodePacket(c, false, 0)
	}

	assert.Equal(t, msg, got)
}
