package rtpmidi

import (
	"context"
	"net"
)

// Transport carries raw datagrams for one RTP-MIDI channel (control or
// data). Both channels speak plain byte slices — session packets,
// RTP-MIDI datagrams and whatever else lands on the socket are all
// just bytes until wire.go, rtpcodec.go and decoder.go interpret them.
type Transport interface {
	Send(data []byte) error
	Receive(ctx context.Context) (data []byte, from net.Addr, err error)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	SetRemoteAddr(addr string) error
	Close() error
	IsActive() bool
}

// TransportConfig configures a Transport.
type TransportConfig struct {
	LocalAddr  string
	RemoteAddr string
	BufferSize int
}

// DefaultTransportConfig returns the package default buffer size, large
// enough for the largest RTP-MIDI datagram this endpoint emits
// (MaxRTPLoad plus the RTP and payload-control headers) with headroom.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{BufferSize: 1500}
}
