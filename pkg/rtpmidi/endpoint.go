package rtpmidi

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
)

// Clock-sync cadence: heartbeats go out every 1.5 seconds for the first
// syncCadenceInitialCount exchanges, then every 10 seconds once the
// link is known good. Both numbers are in localClock's 100µs units.
const (
	syncIntervalInitial      = 15000  // 1.5s
	syncIntervalSteady       = 100000 // 10s
	syncCadenceInitialCount  = 5
	inviteRetryIntervalTicks = 10000 // 1s of Tick calls at the expected 1ms cadence
	inviteCountCeiling       = 12    // past this many data-channel retries, restart to INVITE_CTRL
	timeoutRemoteInitial     = 4
)

// Endpoint is one side of an RTP-MIDI session: session management on
// the control channel, MIDI transport on the data channel, both driven
// by repeated calls to Tick. SendMIDIBlock (lock-free outbound ring),
// SetCallback, Latency and the edge-triggered flag readers
// (ConnectionLost, PeerClosed, PeerRefused) are safe to call from another
// goroutine; every other method must be called from the same goroutine
// that calls Tick.
type Endpoint struct {
	config EndpointConfig
	logger Logger

	control Transport
	data    Transport

	isInitiator bool
	fsm         *sessionFSM

	ssrc           uint32
	initiatorToken uint32
	partnerSSRC    uint32
	partnerToken   uint32

	localClock uint32
	latency    *latencyHolder

	syncCount      int
	syncStarted    bool
	lastSyncAt     uint32
	ck0SentAt      uint32
	lastHeardAt    uint32
	lastInviteSent uint32
	inviteCount    int

	lastRxSeq uint16 // most recent data-channel RTP SequenceNumber decoded
	lastFbSeq uint16 // last value acknowledged to the peer via RS

	ring *outboundRing
	enc  *encoder
	dec  *decoder

	handler     MIDIHandler
	handlerUser any

	connectionLost bool
	peerClosed     bool
	peerRefused    bool

	opened atomic.Bool // mirrors fsm.current()==StateOpened, readable off the Tick goroutine
	locked atomic.Bool // set by Close; Tick returns immediately once set

	// mu guards the edge-triggered flags above and the callback pair
	// (handler, handlerUser), both of which SetCallback and deliver can
	// touch from goroutines other than the one driving Tick.
	mu sync.Mutex
}

// NewEndpoint builds an Endpoint with no transport bound yet; call
// Initiate or Listen before Tick.
func NewEndpoint(cfg EndpointConfig) *Endpoint {
	cfg = cfg.normalize()
	ssrc, token := newSessionIdentifiers()

	e := &Endpoint{
		config:         cfg,
		logger:         NewLogger(cfg.Logger, "rtpmidi"),
		ssrc:           ssrc,
		initiatorToken: token,
		latency:        newLatencyHolder(),
		ring:           newOutboundRing(MinRingCapacity),
		dec:            newDecoder(cfg.SysExInSize),
	}
	e.enc = newEncoder(e.ring, cfg.SysExOutFragmentSize)
	e.dec.handler = e.deliverDecoded
	e.dec.onOverflow = e.config.Metrics.SysExOverflow
	e.fsm = newSessionFSM(e.onTransition)
	return e
}

func (e *Endpoint) deliverDecoded(_ any, length int, bytes []byte, timestamp uint32) {
	e.config.Metrics.MIDIDecoded()
	e.deliver(bytes, timestamp)
}

// Initiate binds both channels and begins inviting remoteControlAddr /
// remoteDataAddr.
func (e *Endpoint) Initiate(localControlAddr, localDataAddr, remoteControlAddr, remoteDataAddr string) error {
	controlCfg := DefaultTransportConfig()
	controlCfg.LocalAddr, controlCfg.RemoteAddr = localControlAddr, remoteControlAddr
	control, err := NewUDPTransport(controlCfg)
	if err != nil {
		return ErrControlSocketCreateFailed
	}
	dataCfg := DefaultTransportConfig()
	dataCfg.LocalAddr, dataCfg.RemoteAddr = localDataAddr, remoteDataAddr
	data, err := NewUDPTransport(dataCfg)
	if err != nil {
		control.Close()
		return ErrDataSocketCreateFailed
	}
	e.control = control
	e.data = data
	e.beginInitiate()
	return nil
}

// beginInitiate sends the first IN and enters StateInviting. Split out
// of Initiate so tests can drive the protocol over an in-memory
// Transport without opening real sockets.
func (e *Endpoint) beginInitiate() {
	e.isInitiator = true
	e.fsm.fire(context.Background(), evInvite)
	e.sendInvitation(e.control, cmdIN)
	e.lastInviteSent = e.localClock
	e.config.Metrics.InviteSent()
}

// Listen binds both channels and waits for an invitation; role is
// decided, but the session doesn't begin until one arrives.
func (e *Endpoint) Listen(localControlAddr, localDataAddr string) error {
	e.isInitiator = false

	controlCfg := DefaultTransportConfig()
	controlCfg.LocalAddr = localControlAddr
	control, err := NewUDPTransport(controlCfg)
	if err != nil {
		return ErrControlSocketCreateFailed
	}
	dataCfg := DefaultTransportConfig()
	dataCfg.LocalAddr = localDataAddr
	data, err := NewUDPTransport(dataCfg)
	if err != nil {
		control.Close()
		return ErrDataSocketCreateFailed
	}
	e.control = control
	e.data = data
	return nil
}

// Close tears the session down, sending BY on the control channel if the
// session had got past StateIdle (inviting, syncing or open), and locks the
// endpoint against further Tick processing. It is a no-op if the
// endpoint is already locked, or if a listener hasn't yet heard from a
// partner.
func (e *Endpoint) Close() error {
	if e.locked.Load() {
		return nil
	}
	if !e.isInitiator && e.fsm.current() == StateIdle {
		return nil
	}
	if e.fsm.current() != StateIdle && e.fsm.current() != StateClosed {
		e.sendBY(e.control)
	}
	e.fsm.fire(context.Background(), evLocalClose)
	e.locked.Store(true)
	var firstErr error
	if e.control != nil {
		if err := e.control.Close(); err != nil {
			firstErr = err
		}
	}
	if e.data != nil {
		if err := e.data.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetCallback installs the handler invoked for every decoded MIDI
// message, including reassembled SysEx. It locks the endpoint across
// the swap, so it's safe to call concurrently with Tick.
func (e *Endpoint) SetCallback(h MIDIHandler, user any) {
	e.mu.Lock()
	e.handler = h
	e.handlerUser = user
	e.mu.Unlock()
}

// SessionState reports the detailed 7-value handshake state.
func (e *Endpoint) SessionState() SessionState { return e.fsm.current() }

// Status reports the coarse closed/inviting/syncing/opened summary.
func (e *Endpoint) Status() EndpointStatus { return coarseStatus(e.fsm.current()) }

// Latency returns the last computed round-trip latency estimate in
// 100µs units, or the sentinel returned before a clock sync completes.
func (e *Endpoint) Latency() uint32 { return e.latency.get() }

// SendMIDIBlock enqueues already-framed MIDI bytes — the caller owns
// delta-time and running-status formatting — for the next Tick to
// drain into an RTP-MIDI datagram. It is safe to call from a goroutine
// other than the one driving Tick.
func (e *Endpoint) SendMIDIBlock(block []byte) error {
	if !e.opened.Load() {
		return ErrNotConnected
	}
	if e.ring.write(block) {
		return nil
	}
	e.config.Metrics.QueueDrop()
	return ErrQueueFull
}

// ConnectionLost reports, and clears, whether the session was just torn
// down by keep-alive loss.
func (e *Endpoint) ConnectionLost() bool { return e.consumeFlag(&e.connectionLost) }

// PeerClosed reports, and clears, whether the peer just sent BY.
func (e *Endpoint) PeerClosed() bool { return e.consumeFlag(&e.peerClosed) }

// PeerRefused reports, and clears, whether the peer just sent NO.
func (e *Endpoint) PeerRefused() bool { return e.consumeFlag(&e.peerRefused) }

func (e *Endpoint) consumeFlag(flag *bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := *flag
	*flag = false
	return v
}

func (e *Endpoint) setFlag(flag *bool) {
	e.mu.Lock()
	*flag = true
	e.mu.Unlock()
}

// Tick advances the local clock, drains both channels, and drives
// every time-based side effect (invite retries, clock-sync heartbeats,
// keep-alive loss, draining the outbound ring). The caller should call
// it at a steady ~1ms cadence for the clock and timeouts to track real
// time meaningfully, though correctness doesn't depend on exact timing.
func (e *Endpoint) Tick(ctx context.Context) {
	if e.locked.Load() {
		return
	}
	e.localClock += clockTickUnits100us

	e.pollChannel(ctx, e.control, e.handleControlPacket)
	e.pollChannel(ctx, e.data, e.handleDataPacket)

	switch e.fsm.current() {
	case StateInviting, StateInvitingData:
		if e.isInitiator && e.localClock-e.lastInviteSent >= inviteRetryIntervalTicks {
			e.retryInvite()
		}
	case StateWaitClockSync:
		e.maybeStartSync()
		e.checkTimeoutRemote()
	case StateOpened:
		e.maybeStartSync()
		e.checkTimeoutRemote()
		e.drainOutbound()
	}
}

// pollChannel drains t in a loop until a read comes back empty, so a
// burst of several datagrams arriving between ticks is absorbed in one
// Tick call rather than trickling in one per tick.
func (e *Endpoint) pollChannel(ctx context.Context, t Transport, handle func([]byte, net.Addr)) {
	if t == nil {
		return
	}
	for {
		data, from, err := t.Receive(ctx)
		if err != nil || len(data) == 0 {
			return
		}
		handle(data, from)
	}
}

// retryInvite resends the outstanding IN on whichever channel still has
// an unanswered invite: control while in StateInviting, data while in
// StateInvitingData. Past inviteCountCeiling unanswered data-channel
// retries, it gives up on this data invite and restarts the whole
// handshake from INVITE_CTRL instead of resending again.
func (e *Endpoint) retryInvite() {
	if e.fsm.current() == StateInvitingData {
		if e.inviteCount > inviteCountCeiling {
			e.restartInvite()
			return
		}
		e.sendInvitation(e.data, cmdIN)
		e.inviteCount++
	} else {
		e.sendInvitation(e.control, cmdIN)
		e.inviteCount++
	}
	e.lastInviteSent = e.localClock
	e.config.Metrics.InviteSent()
}

// restartInvite abandons the stalled data-channel invite and starts
// over on the control channel. onTransition zeroes inviteCount on
// (re)entry to StateInviting.
func (e *Endpoint) restartInvite() {
	e.fsm.fire(context.Background(), evInviteDataExhausted)
	e.sendInvitation(e.control, cmdIN)
	e.lastInviteSent = e.localClock
	e.config.Metrics.InviteSent()
}

func (e *Endpoint) handleControlPacket(data []byte, from net.Addr) {
	cmd, ok := sessionCommand(data)
	if !ok {
		return
	}
	switch cmd {
	case cmdIN:
		e.handleInvite(e.control, data, from)
	case cmdOK:
		e.handleOK(true, data)
	case cmdNO:
		e.handleOK(false, data)
	case cmdBY:
		e.handleBY(data)
	case cmdCK:
		e.handleCK(e.control, data)
	case cmdRS:
		e.handleRS(data)
	}
}

func (e *Endpoint) handleDataPacket(data []byte, from net.Addr) {
	if cmd, ok := sessionCommand(data); ok {
		switch cmd {
		case cmdIN:
			e.handleInvite(e.data, data, from)
		case cmdOK:
			e.handleOK(true, data)
		case cmdNO:
			e.handleOK(false, data)
		case cmdBY:
			e.handleBY(data)
		case cmdCK:
			e.handleCK(e.data, data)
		case cmdRS:
			e.handleRS(data)
		}
		return
	}
	if !isRTPMIDI(data) || e.fsm.current() != StateOpened {
		return
	}
	e.decodeDatagram(data)
}

func (e *Endpoint) handleInvite(onChannel Transport, data []byte, from net.Addr) {
	pkt, err := decodeInvitation(data)
	if err != nil {
		return
	}

	switch e.fsm.current() {
	case StateIdle:
		if e.isInitiator {
			return // we invite, we don't accept invites
		}
		e.partnerSSRC = pkt.SSRC
		e.partnerToken = pkt.InitiatorToken
		onChannel.SetRemoteAddr(from.String())
		e.sendInvitation(onChannel, cmdOK)
		e.config.Metrics.InviteReceived(true)
		e.fsm.fire(context.Background(), evListenerControlIn)
	case StateAwaitingDataInvite:
		if onChannel != e.data || pkt.SSRC != e.partnerSSRC {
			return
		}
		e.data.SetRemoteAddr(from.String())
		e.sendInvitation(e.data, cmdOK)
		e.config.Metrics.InviteReceived(true)
		e.fsm.fire(context.Background(), evListenerDataIn)
	default:
		// Re-invite from an already-connected peer: accept if it's the
		// same partner (idempotent), otherwise ignore — a third party
		// can't hijack an open session by re-sending IN.
		if pkt.SSRC == e.partnerSSRC {
			e.sendInvitation(onChannel, cmdOK)
		}
	}
}

func (e *Endpoint) handleOK(accepted bool, data []byte) {
	pkt, err := decodeInvitation(data)
	if err != nil || !e.isInitiator {
		return
	}
	switch e.fsm.current() {
	case StateInviting:
		if !accepted {
			e.setFlag(&e.peerRefused)
			e.config.Metrics.InviteReceived(false)
			e.fsm.fire(context.Background(), evControlRefused)
			return
		}
		e.partnerSSRC = pkt.SSRC
		e.config.Metrics.InviteReceived(true)
		e.fsm.fire(context.Background(), evControlAccepted)
		e.sendInvitation(e.data, cmdIN)
		e.lastInviteSent = e.localClock
	case StateInvitingData:
		if !accepted {
			e.setFlag(&e.peerRefused)
			e.fsm.fire(context.Background(), evDataRefused)
			return
		}
		e.fsm.fire(context.Background(), evDataAccepted)
		e.lastHeardAt = e.localClock
	}
}

func (e *Endpoint) handleBY(data []byte) {
	pkt, err := decodeBY(data)
	if err != nil || pkt.SSRC != e.partnerSSRC {
		return
	}
	e.setFlag(&e.peerClosed)
	e.fsm.fire(context.Background(), evPeerBye)
	e.resetSession()
}

// handleRS notes a resend request from the peer. There is no MIDI
// journal to replay from, so the request can't actually be honored;
// this just counts it instead of dropping it silently.
func (e *Endpoint) handleRS(data []byte) {
	if _, err := decodeRS(data); err != nil {
		return
	}
	e.config.Metrics.ResyncReceived()
}

func (e *Endpoint) resetSession() {
	e.dec.resetSysEx()
	e.latency.reset()
	e.syncCount = 0
	e.syncStarted = false
	e.fsm.fire(context.Background(), evReset)
}

func (e *Endpoint) sendInvitation(t Transport, cmd [2]byte) {
	pkt := invitationPacket{
		ProtocolVersion: ProtocolVersion,
		InitiatorToken:  e.initiatorToken,
		SSRC:            e.ssrc,
		SessionName:     e.config.SessionName,
	}
	var buf []byte
	switch cmd {
	case cmdOK:
		buf = encodeOK(pkt)
	case cmdNO:
		buf = encodeNO(pkt)
	default:
		buf = encodeIN(pkt)
	}
	t.Send(buf)
}

func (e *Endpoint) sendBY(t Transport) {
	if t == nil {
		return
	}
	t.Send(encodeBY(byPacket{InitiatorToken: e.initiatorToken, SSRC: e.ssrc}))
}

// maybeStartSync fires the first leg of the CK exchange on the cadence
// described at the top of this file. Either role may initiate it: CK
// handling is role-agnostic, including past OPENED, where repeated CK
// exchanges double as the keep-alive heartbeat.
func (e *Endpoint) maybeStartSync() {
	interval := uint32(syncIntervalInitial)
	if e.syncCount >= syncCadenceInitialCount {
		interval = syncIntervalSteady
	}
	if e.syncStarted && e.localClock-e.lastSyncAt < interval {
		return
	}
	// This heartbeat is also the initiator's chance to notice it hasn't
	// acknowledged everything it has decoded and ask the peer to resend.
	if e.isInitiator && e.fsm.current() == StateOpened && e.lastRxSeq != e.lastFbSeq {
		e.control.Send(encodeRS(resyncPacket{SSRC: e.ssrc, LastSeq: e.lastRxSeq}))
		e.lastFbSeq = e.lastRxSeq
		e.config.Metrics.ResyncSent()
	}
	e.syncStarted = true
	e.lastSyncAt = e.localClock
	e.ck0SentAt = e.localClock
	e.data.Send(encodeCK(clockPacket{SSRC: e.ssrc, Count: 0, TS1H: 0, TS1L: e.localClock}))
}

func (e *Endpoint) handleCK(onChannel Transport, data []byte) {
	pkt, err := decodeCK(data)
	if err != nil {
		return
	}

	// Any CK activity from the peer is proof of life, regardless of
	// which leg it is or what state we're in — the keep-alive window
	// resets even past OPENED.
	e.lastHeardAt = e.localClock

	switch pkt.Count {
	case 0:
		// We're being invited into the second leg: echo TS1, stamp TS2.
		onChannel.Send(encodeCK(clockPacket{
			SSRC: e.ssrc, Count: 1,
			TS1H: pkt.TS1H, TS1L: pkt.TS1L,
			TS2H: 0, TS2L: e.localClock,
		}))
	case 1:
		if pkt.TS1L != e.ck0SentAt {
			return // not a reply to our own CK0
		}
		onChannel.Send(encodeCK(clockPacket{
			SSRC: e.ssrc, Count: 2,
			TS1H: pkt.TS1H, TS1L: pkt.TS1L,
			TS2H: pkt.TS2H, TS2L: pkt.TS2L,
			TS3H: 0, TS3L: e.localClock,
		}))
		// Initiator's own leg: latency = local_clock - TS1L, both this
		// endpoint's own readings.
		e.finishSync(e.localClock - pkt.TS1L)
	case 2:
		// Listener's own leg: latency = local_clock - TS2L, both this
		// endpoint's own readings.
		e.finishSync(e.localClock - pkt.TS2L)
	}
}

// finishSync records a round-trip latency estimate and, the first time
// this completes, opens the session.
func (e *Endpoint) finishSync(latency uint32) {
	e.latency.set(latency)
	e.syncCount++
	e.config.Metrics.ClockSync()
	e.config.Metrics.SetLatency(latency)
	if e.fsm.current() == StateWaitClockSync {
		e.fsm.fire(context.Background(), evSyncComplete)
	}
}

// checkTimeoutRemote declares the connection lost once silence from the
// peer (no CK and no decoded datagram) has lasted through
// timeoutRemoteInitial full steady-state sync windows. This is a
// silence threshold rather than a literal per-tick countdown, which
// would either race to zero on the first long gap or need its own timer.
//
// An initiator that loses its peer doesn't just sit idle: it restarts
// the invitation cycle from StateInviting the same way restartInvite
// does for the invite-count-ceiling case. A listener has no one to
// invite, so it only resets to StateIdle and waits.
func (e *Endpoint) checkTimeoutRemote() {
	threshold := uint32(timeoutRemoteInitial) * syncIntervalSteady
	if e.localClock-e.lastHeardAt < threshold {
		return
	}
	e.setFlag(&e.connectionLost)
	e.config.Metrics.ConnectionLost()
	e.fsm.fire(context.Background(), evKeepaliveTimeout)
	e.resetSession()
	if e.isInitiator {
		e.fsm.fire(context.Background(), evInvite)
		e.sendInvitation(e.control, cmdIN)
		e.lastInviteSent = e.localClock
		e.config.Metrics.InviteSent()
	}
}

func (e *Endpoint) decodeDatagram(data []byte) {
	if len(data) < 14 {
		return
	}
	e.lastRxSeq = binary.BigEndian.Uint16(data[2:4])
	controlWord := (uint16(data[12]) << 8) | uint16(data[13])
	longHeader := controlWord&longHeaderBBit != 0
	zBit := controlWord&0x2000 != 0

	var payload []byte
	if longHeader {
		if len(data) < 14 {
			return
		}
		length := int(controlWord & 0x0FFF)
		if 14+length > len(data) {
			length = len(data) - 14
		}
		payload = data[14 : 14+length]
	} else {
		length := int(data[12] & 0x0F)
		if 13+length > len(data) {
			length = len(data) - 13
		}
		payload = data[13 : 13+length]
		zBit = data[12]&0x20 != 0
	}

	e.lastHeardAt = e.localClock
	e.dec.decodePacket(payload, zBit, e.localClock)
}

func (e *Endpoint) drainOutbound() {
	datagram, ok := e.enc.emit(e.localClock, e.ssrc)
	if !ok {
		return
	}
	e.data.Send(datagram)
}

func (e *Endpoint) onTransition(from, to SessionState) {
	e.logger.Infof("session %s -> %s", from, to)
	e.config.Metrics.SetState(to)
	e.opened.Store(to == StateOpened)
	if to == StateInviting {
		e.inviteCount = 0
	}
	if to == StateWaitClockSync {
		e.lastHeardAt = e.localClock
	}
}
