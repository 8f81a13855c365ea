package rtpmidi

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTransport connects to a peer mockTransport over in-memory buffered
// channels, standing in for a UDP socket in tests that need a full
// session handshake without opening real sockets.
type mockTransport struct {
	name   string
	peer   *mockTransport
	inbox  chan []byte
	closed bool
}

func newMockLink(nameA, nameB string) (*mockTransport, *mockTransport) {
	a := &mockTransport{name: nameA, inbox: make(chan []byte, 64)}
	b := &mockTransport{name: nameB, inbox: make(chan []byte, 64)}
	a.peer = b
	b.peer = a
	return a, b
}

func (m *mockTransport) Send(data []byte) error {
	if m.closed || m.peer == nil {
		return nil
	}
	cp := append([]byte(nil), data...)
	select {
	case m.peer.inbox <- cp:
	default:
	}
	return nil
}

func (m *mockTransport) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	select {
	case data := <-m.inbox:
		return data, mockAddr(m.name), nil
	default:
		return nil, nil, nil
	}
}

func (m *mockTransport) LocalAddr() net.Addr         { return mockAddr(m.name) }
func (m *mockTransport) RemoteAddr() net.Addr        { return mockAddr(m.name + "-remote") }
func (m *mockTransport) SetRemoteAddr(string) error  { return nil }
func (m *mockTransport) Close() error                { m.closed = true; return nil }
func (m *mockTransport) IsActive() bool              { return !m.closed }

type mockAddr string

func (a mockAddr) Network() string { return "mock" }
func (a mockAddr) String() string  { return string(a) }

func newTestEndpointPair(t *testing.T) (initiator, listener *Endpoint) {
	t.Helper()
	controlA, controlB := newMockLink("initiator-control", "listener-control")
	dataA, dataB := newMockLink("initiator-data", "listener-data")

	initiator = NewEndpoint(EndpointConfig{SessionName: "initiator"})
	initiator.control = controlA
	initiator.data = dataA

	listener = NewEndpoint(EndpointConfig{SessionName: "listener"})
	listener.control = controlB
	listener.data = dataB

	return initiator, listener
}

func runUntilOpened(t *testing.T, initiator, listener *Endpoint, maxTicks int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < maxTicks; i++ {
		initiator.Tick(ctx)
		listener.Tick(ctx)
		if initiator.SessionState() == StateOpened && listener.SessionState() == StateOpened {
			return
		}
	}
	require.Equal(t, StateOpened, initiator.SessionState(), "initiator never opened")
	require.Equal(t, StateOpened, listener.SessionState(), "listener never opened")
}

func TestEndpointHandshakeReachesOpened(t *testing.T) {
	initiator, listener := newTestEndpointPair(t)
	initiator.beginInitiate()

	runUntilOpened(t, initiator, listener, 500)

	assert.Equal(t, listener.ssrc, initiator.partnerSSRC)
	assert.Equal(t, initiator.ssrc, listener.partnerSSRC)
	assert.Equal(t, EndpointOpened, initiator.Status())
	assert.Equal(t, EndpointOpened, listener.Status())
}

func TestEndpointInviteDataRetryUsesDataChannel(t *testing.T) {
	initiator, listener := newTestEndpointPair(t)
	initiator.beginInitiate()

	// Drive past the control-channel leg only, landing the initiator in
	// StateInvitingData with its first data-channel IN already sent.
	ctx := context.Background()
	for i := 0; i < 10 && initiator.SessionState() != StateInvitingData; i++ {
		initiator.Tick(ctx)
		listener.Tick(ctx)
	}
	require.Equal(t, StateInvitingData, initiator.SessionState())

	listenerDataInbox := listener.data.(*mockTransport).inbox
	for len(listenerDataInbox) > 0 {
		<-listenerDataInbox
	}

	initiator.retryInvite()

	require.Len(t, listenerDataInbox, 1, "the retry must land on the data channel, not control")
	cmd, ok := sessionCommand(<-listenerDataInbox)
	require.True(t, ok)
	assert.Equal(t, cmdIN, cmd)
	assert.Equal(t, 1, initiator.inviteCount)
}

func TestEndpointInviteDataRetryCeilingRestartsOnControl(t *testing.T) {
	initiator, listener := newTestEndpointPair(t)
	initiator.beginInitiate()

	ctx := context.Background()
	for i := 0; i < 10 && initiator.SessionState() != StateInvitingData; i++ {
		initiator.Tick(ctx)
		listener.Tick(ctx)
	}
	require.Equal(t, StateInvitingData, initiator.SessionState())

	initiator.inviteCount = inviteCountCeiling + 1

	listenerControlInbox := listener.control.(*mockTransport).inbox
	for len(listenerControlInbox) > 0 {
		<-listenerControlInbox
	}

	initiator.retryInvite()

	require.Equal(t, StateInviting, initiator.SessionState())
	assert.Equal(t, 0, initiator.inviteCount)
	require.Len(t, listenerControlInbox, 1)
	cmd, ok := sessionCommand(<-listenerControlInbox)
	require.True(t, ok)
	assert.Equal(t, cmdIN, cmd)
}

func TestEndpointSendsRSWhenRxAndFbSeqDiverge(t *testing.T) {
	initiator, listener := newTestEndpointPair(t)
	initiator.beginInitiate()
	runUntilOpened(t, initiator, listener, 500)

	initiator.lastRxSeq = 7
	initiator.lastFbSeq = 3
	initiator.syncStarted = false // force maybeStartSync's cadence gate open

	controlInbox := listener.control.(*mockTransport).inbox
	for len(controlInbox) > 0 {
		<-controlInbox
	}

	initiator.maybeStartSync()

	require.GreaterOrEqual(t, len(controlInbox), 1)
	pkt, err := decodeRS(<-controlInbox)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), pkt.LastSeq)
	assert.Equal(t, uint16(7), initiator.lastFbSeq)
}

func TestEndpointMIDIDeliveryAfterOpen(t *testing.T) {
	initiator, listener := newTestEndpointPair(t)
	initiator.beginInitiate()
	runUntilOpened(t, initiator, listener, 500)

	var received []byte
	listener.SetCallback(func(_ any, _ int, bytes []byte, _ uint32) {
		received = append([]byte(nil), bytes...)
	}, nil)

	require.NoError(t, initiator.SendMIDIBlock([]byte{0x90, 0x3C, 0x64}))

	ctx := context.Background()
	for i := 0; i < 10 && received == nil; i++ {
		initiator.Tick(ctx)
		listener.Tick(ctx)
	}

	assert.Equal(t, []byte{0x90, 0x3C, 0x64}, received)
}

func TestEndpointFragmentsOversizedSysExOnSend(t *testing.T) {
	initiator, listener := newTestEndpointPair(t)
	initiator.beginInitiate()
	runUntilOpened(t, initiator, listener, 500)

	payload := make([]byte, MaxRTPLoad+200)
	for i := range payload {
		payload[i] = byte(i % 0x70)
	}
	message := append([]byte{0xF0}, append(payload, 0xF7)...)
	// The default SysExInSize is smaller than this message; give the
	// listener room for all of it so truncation doesn't mask reassembly.
	listener.dec.sysExInSize = uint32(len(message))

	var received []byte
	listener.SetCallback(func(_ any, _ int, bytes []byte, _ uint32) {
		received = append([]byte(nil), bytes...)
	}, nil)

	require.NoError(t, initiator.SendMIDIBlock(message), "one SendMIDIBlock call, larger than one RTP-MIDI payload")

	ctx := context.Background()
	for i := 0; i < 20 && received == nil; i++ {
		initiator.Tick(ctx)
		listener.Tick(ctx)
	}

	assert.Equal(t, message, received, "oversized SysEx is fragmented by the encoder and reassembled by the decoder")
}

func TestEndpointPeerBYClosesSession(t *testing.T) {
	initiator, listener := newTestEndpointPair(t)
	initiator.beginInitiate()
	runUntilOpened(t, initiator, listener, 500)

	require.NoError(t, initiator.Close())

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		listener.Tick(ctx)
	}

	assert.True(t, listener.PeerClosed())
	assert.Equal(t, StateIdle, listener.SessionState())
}
