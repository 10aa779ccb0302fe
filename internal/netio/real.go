package netio

import (
	"fmt"
	"net"
)

// RealNet binds actual UDP sockets.
type RealNet struct{}

// NewRealNet returns a Net backed by the OS network stack.
func NewRealNet() RealNet { return RealNet{} }

// Listen binds a UDP socket at addr. A bind failure here is Fatal:
// callers at startup should treat an error from Listen as unrecoverable.
func (RealNet) Listen(addr *net.UDPAddr) (Endpoint, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("netio: listen %s: %w", addr, err)
	}
	return &realEndpoint{conn: conn}, nil
}

type realEndpoint struct {
	conn *net.UDPConn
}

func (e *realEndpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

func (e *realEndpoint) SendTo(addr *net.UDPAddr, data []byte) error {
	_, err := e.conn.WriteToUDP(data, addr)
	if err != nil {
		return fmt.Errorf("netio: sendto %s: %w", addr, err)
	}
	return nil
}

func (e *realEndpoint) ReadFrom(buf []byte) (int, *net.UDPAddr, error) {
	n, addr, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, fmt.Errorf("netio: read: %w", err)
	}
	return n, addr, nil
}

func (e *realEndpoint) Close() error {
	return e.conn.Close()
}
