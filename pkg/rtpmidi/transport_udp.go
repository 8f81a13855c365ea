package rtpmidi

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// MaxDatagramSize bounds what UDPTransport will read or send; RTP-MIDI
// datagrams never approach a normal MTU but session packets with a long
// session name plus the RTP-MIDI header still fit comfortably under it.
const MaxDatagramSize = 1500

// UDPTransport implements Transport over a UDP socket. Receive never
// blocks longer than pollInterval, so Endpoint.Tick can drain both the
// control and data sockets on every tick without a dedicated reader
// goroutine per channel.
type UDPTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	config     TransportConfig

	active bool
	mutex  sync.RWMutex
}

const pollInterval = 2 * time.Millisecond

// NewUDPTransport binds config.LocalAddr and, if set, resolves
// config.RemoteAddr.
func NewUDPTransport(config TransportConfig) (*UDPTransport, error) {
	if config.BufferSize == 0 {
		config.BufferSize = MaxDatagramSize
	}

	localAddr, err := net.ResolveUDPAddr("udp", config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("rtpmidi: resolve local addr: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("rtpmidi: listen udp: %w", err)
	}

	if err := tuneSocketBuffers(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rtpmidi: tune socket buffers: %w", err)
	}

	t := &UDPTransport{conn: conn, config: config, active: true}

	if config.RemoteAddr != "" {
		remoteAddr, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("rtpmidi: resolve remote addr: %w", err)
		}
		t.remoteAddr = remoteAddr
	}

	return t, nil
}

func (t *UDPTransport) Send(data []byte) error {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	remoteAddr := t.remoteAddr
	t.mutex.RUnlock()

	if !active {
		return fmt.Errorf("rtpmidi: transport closed")
	}
	if remoteAddr == nil {
		return fmt.Errorf("rtpmidi: no remote address set")
	}

	_, err := conn.WriteToUDP(data, remoteAddr)
	return err
}

// Receive polls for a single datagram for up to pollInterval, then
// returns (nil, nil, nil) if nothing arrived — not an error, just "try
// again next tick".
func (t *UDPTransport) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	bufferSize := t.config.BufferSize
	t.mutex.RUnlock()

	if !active {
		return nil, nil, fmt.Errorf("rtpmidi: transport closed")
	}

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	buf := make([]byte, bufferSize)
	conn.SetReadDeadline(time.Now().Add(pollInterval))

	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("rtpmidi: udp read: %w", err)
	}

	return buf[:n], addr, nil
}

func (t *UDPTransport) LocalAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

func (t *UDPTransport) RemoteAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.remoteAddr
}

func (t *UDPTransport) SetRemoteAddr(addr string) error {
	remoteAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("rtpmidi: resolve remote addr: %w", err)
	}
	t.mutex.Lock()
	t.remoteAddr = remoteAddr
	t.mutex.Unlock()
	return nil
}

func (t *UDPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if !t.active {
		return nil
	}
	t.active = false
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

func (t *UDPTransport) IsActive() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.active
}

// tuneSocketBuffers raises the kernel send/receive buffers so a burst
// of MIDI traffic (or a slow consumer) doesn't cause the kernel to drop
// datagrams before this endpoint ever sees them.
func tuneSocketBuffers(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, 1<<20)
		if sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, 1<<20)
	})
	if err != nil {
		return err
	}
	return sockErr
}
