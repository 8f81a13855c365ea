package rtpmidi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundRingWriteDrainRoundTrip(t *testing.T) {
	r := newOutboundRing(MinRingCapacity)
	block := []byte{0x90, 0x40, 0x7F}

	require.True(t, r.write(block))
	assert.False(t, r.empty())

	dst := make([]byte, 16)
	n := r.drain(dst)
	assert.Equal(t, block, dst[:n])
	assert.True(t, r.empty())
}

func TestOutboundRingRejectsWholeBlockWhenFull(t *testing.T) {
	r := newOutboundRing(MinRingCapacity)
	capacity := MinRingCapacity

	// Fill to one byte short of full.
	require.True(t, r.write(make([]byte, capacity-2)))

	before := make([]byte, capacity)
	nBefore := r.drain(before[:0:0]) // zero-length probe, changes nothing
	assert.Equal(t, 0, nBefore)

	// A block that doesn't fit must be rejected atomically: nothing
	// observable changes.
	ok := r.write([]byte{1, 2, 3, 4, 5})
	assert.False(t, ok)
}

func TestOutboundRingDrainPartial(t *testing.T) {
	r := newOutboundRing(MinRingCapacity)
	require.True(t, r.write([]byte{1, 2, 3, 4, 5}))

	dst := make([]byte, 2)
	n := r.drain(dst)
	assert.Equal(t, 2, n)
	assert.False(t, r.empty())

	dst2 := make([]byte, 16)
	n2 := r.drain(dst2)
	assert.Equal(t, 3, n2)
	assert.Equal(t, []byte{3, 4, 5}, dst2[:n2])
	assert.True(t, r.empty())
}

func TestNewOutboundRingEnforcesMinimumCapacity(t *testing.T) {
	r := newOutboundRing(16)
	assert.Equal(t, MinRingCapacity, len(r.buf))
}

func TestOutboundRingPeekDoesNotConsume(t *testing.T) {
	r := newOutboundRing(MinRingCapacity)
	require.True(t, r.write([]byte{0xF0, 1, 2, 3, 0xF7}))

	dst := make([]byte, 16)
	n := r.peek(dst)
	assert.Equal(t, []byte{0xF0, 1, 2, 3, 0xF7}, dst[:n])
	assert.False(t, r.empty(), "peek must not advance the read pointer")

	// A second peek sees the same bytes again.
	n2 := r.peek(dst)
	assert.Equal(t, n, n2)
}

func TestOutboundRingAdvanceCommitsAPriorPeek(t *testing.T) {
	r := newOutboundRing(MinRingCapacity)
	require.True(t, r.write([]byte{0xF0, 1, 2, 3, 0xF7}))

	dst := make([]byte, 16)
	r.peek(dst)
	r.advance(3)

	n := r.drain(dst)
	assert.Equal(t, []byte{3, 0xF7}, dst[:n])
}

func TestOutboundRingCapacityReflectsBufferSize(t *testing.T) {
	r := newOutboundRing(4096)
	assert.Equal(t, 4096, r.capacity())
}
