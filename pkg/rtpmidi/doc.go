// Package rtpmidi implements one endpoint of the Apple RTP-MIDI session
// protocol: session establishment, clock synchronization, keep-alive and
// teardown over a pair of UDP channels, plus the MIDI-over-RTP wire codec
// (running status, SysEx segmentation, embedded real-time bytes).
//
// An Endpoint owns exactly one partner. The host drives everything by
// calling Tick roughly every millisecond; all socket I/O, state-machine
// transitions and callback delivery happen on the calling goroutine.
// SendMIDIBlock, SetCallback, Latency and the edge-triggered flag readers
// are the methods safe to call from a second goroutine.
package rtpmidi
