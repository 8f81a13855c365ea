package rtpmidi

import "errors"

// Error kinds surfaced by Initiate and SendMIDIBlock. Everything else —
// malformed packets, transport errors on an already-OPENED session — is
// dropped silently; see the edge-triggered flags on Endpoint for the
// signals that are surfaced instead of returned.
var (
	// ErrControlSocketCreateFailed is returned by Initiate when the
	// control-channel UDP socket could not be bound.
	ErrControlSocketCreateFailed = errors.New("rtpmidi: control socket create failed")

	// ErrDataSocketCreateFailed is returned by Initiate when the
	// data-channel UDP socket could not be bound.
	ErrDataSocketCreateFailed = errors.New("rtpmidi: data socket create failed")

	// ErrQueueFull is returned by SendMIDIBlock when the session is OPENED
	// but the outbound ring cannot fit the whole block.
	ErrQueueFull = errors.New("rtpmidi: outbound queue full")

	// ErrNotConnected is returned by SendMIDIBlock when the session is not
	// in the OPENED state.
	ErrNotConnected = errors.New("rtpmidi: session not connected")
)
