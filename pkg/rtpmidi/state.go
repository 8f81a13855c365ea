package rtpmidi

import (
	"context"

	"github.com/looplab/fsm"
)

// SessionState is the lifecycle stage of one Endpoint. An Endpoint is
// exclusively an initiator or a listener once Initiate is called, so
// one state enum and one FSM definition cover both roles; the events
// that drive it differ by role.
type SessionState int

const (
	StateIdle SessionState = iota
	// StateInviting: initiator only. IN sent on the control channel,
	// waiting for OK or NO.
	StateInviting
	// StateInvitingData: initiator only. Control channel accepted, IN
	// sent on the data channel, waiting for OK.
	StateInvitingData
	// StateAwaitingDataInvite: listener only. Control channel IN
	// accepted and OK sent; waiting for the peer's data-channel IN.
	StateAwaitingDataInvite
	// StateWaitClockSync: transport-level session established on both
	// channels; running the CK tri-message exchange before any MIDI is
	// exchanged.
	StateWaitClockSync
	// StateOpened: session fully established; MIDI flows.
	StateOpened
	// StateClosed: session torn down. A local Close leaves the endpoint
	// here (and locked); peer BYE and keep-alive loss pass through it on
	// the way back to StateIdle.
	StateClosed
)

var allSessionStates = []SessionState{
	StateIdle, StateInviting, StateInvitingData, StateAwaitingDataInvite,
	StateWaitClockSync, StateOpened, StateClosed,
}

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInviting:
		return "inviting"
	case StateInvitingData:
		return "inviting_data"
	case StateAwaitingDataInvite:
		return "awaiting_data_invite"
	case StateWaitClockSync:
		return "wait_clock_sync"
	case StateOpened:
		return "opened"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EndpointStatus is the coarse four-way session summary reported by
// Endpoint.Status, collapsing SessionState's finer-grained handshake
// detail into what a caller outside the package actually needs.
type EndpointStatus int

const (
	EndpointClosed EndpointStatus = iota
	EndpointInviting
	EndpointSyncing
	EndpointOpened
)

func (s EndpointStatus) String() string {
	switch s {
	case EndpointClosed:
		return "closed"
	case EndpointInviting:
		return "inviting"
	case EndpointSyncing:
		return "syncing"
	case EndpointOpened:
		return "opened"
	default:
		return "unknown"
	}
}

func coarseStatus(s SessionState) EndpointStatus {
	switch s {
	case StateInviting, StateInvitingData, StateAwaitingDataInvite:
		return EndpointInviting
	case StateWaitClockSync:
		return EndpointSyncing
	case StateOpened:
		return EndpointOpened
	default:
		return EndpointClosed
	}
}

// Session FSM event names. The caller (Endpoint) picks which event to
// fire based on conditions the FSM itself doesn't track (invite retry
// counts, which channel a packet arrived on, timeout_remote) — it only
// enforces which transitions are legal from which state.
const (
	evInvite              = "invite"                // Idle -> Inviting (initiator)
	evControlAccepted     = "control_accepted"      // Inviting -> InvitingData (initiator)
	evControlRefused      = "control_refused"       // Inviting -> Idle (initiator)
	evDataAccepted        = "data_accepted"         // InvitingData -> WaitClockSync (initiator)
	evDataRefused         = "data_refused"          // InvitingData -> Idle (initiator)
	evListenerControlIn   = "listener_control_in"   // Idle -> AwaitingDataInvite (listener)
	evListenerDataIn      = "listener_data_in"      // AwaitingDataInvite -> WaitClockSync (listener)
	evSyncComplete        = "sync_complete"         // WaitClockSync -> Opened (either role)
	evPeerBye             = "peer_bye"              // any live state -> Closed
	evLocalClose          = "local_close"           // any state -> Closed
	evKeepaliveTimeout    = "keepalive_timeout"     // Opened -> Closed
	evReset               = "reset"                 // Closed -> Idle
	evInviteDataExhausted = "invite_data_exhausted" // InvitingData -> Inviting (initiator, retry ceiling hit)
)

// sessionFSM wraps looplab/fsm with the RTP-MIDI transition table and
// reports every transition to onTransition.
type sessionFSM struct {
	m            *fsm.FSM
	onTransition func(from, to SessionState)
}

func newSessionFSM(onTransition func(from, to SessionState)) *sessionFSM {
	sf := &sessionFSM{onTransition: onTransition}
	sf.m = fsm.NewFSM(
		StateIdle.String(),
		fsm.Events{
			{Name: evInvite, Src: []string{StateIdle.String()}, Dst: StateInviting.String()},
			{Name: evControlAccepted, Src: []string{StateInviting.String()}, Dst: StateInvitingData.String()},
			{Name: evControlRefused, Src: []string{StateInviting.String()}, Dst: StateIdle.String()},
			{Name: evDataAccepted, Src: []string{StateInvitingData.String()}, Dst: StateWaitClockSync.String()},
			{Name: evDataRefused, Src: []string{StateInvitingData.String()}, Dst: StateIdle.String()},
			{Name: evListenerControlIn, Src: []string{StateIdle.String()}, Dst: StateAwaitingDataInvite.String()},
			{Name: evListenerDataIn, Src: []string{StateAwaitingDataInvite.String()}, Dst: StateWaitClockSync.String()},
			{Name: evSyncComplete, Src: []string{StateWaitClockSync.String()}, Dst: StateOpened.String()},
			{
				Name: evPeerBye,
				Src: []string{
					StateInviting.String(), StateInvitingData.String(), StateAwaitingDataInvite.String(),
					StateWaitClockSync.String(), StateOpened.String(),
				},
				Dst: StateClosed.String(),
			},
			{
				Name: evLocalClose,
				Src: []string{
					StateIdle.String(), StateInviting.String(), StateInvitingData.String(),
					StateAwaitingDataInvite.String(), StateWaitClockSync.String(), StateOpened.String(),
				},
				Dst: StateClosed.String(),
			},
			{Name: evKeepaliveTimeout, Src: []string{StateOpened.String(), StateWaitClockSync.String()}, Dst: StateClosed.String()},
			{Name: evReset, Src: []string{StateClosed.String()}, Dst: StateIdle.String()},
			{Name: evInviteDataExhausted, Src: []string{StateInvitingData.String()}, Dst: StateInviting.String()},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				sf.handleTransition(e)
			},
		},
	)
	return sf
}

func (sf *sessionFSM) handleTransition(e *fsm.Event) {
	if sf.onTransition == nil {
		return
	}
	sf.onTransition(parseSessionState(e.Src), parseSessionState(e.Dst))
}

func parseSessionState(s string) SessionState {
	for _, st := range allSessionStates {
		if st.String() == s {
			return st
		}
	}
	return StateIdle
}

func (sf *sessionFSM) current() SessionState {
	return parseSessionState(sf.m.Current())
}

// fire applies event, swallowing fsm's "invalid transition" error: the
// caller already decided the event is appropriate for the current
// state's role, so an invalid transition means the event arrived too
// late (e.g. a duplicate OK) and is simply ignored.
func (sf *sessionFSM) fire(ctx context.Context, event string) {
	_ = sf.m.Event(ctx, event)
}
