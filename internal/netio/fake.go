package netio

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrClosed is returned by ReadFrom once the endpoint has been closed.
var ErrClosed = errors.New("netio: endpoint closed")

type fakeDatagram struct {
	from *net.UDPAddr
	data []byte
}

// FakeNet is an in-memory network: endpoints are addressed by their
// *net.UDPAddr's String() form, and SendTo delivers directly into the
// target's inbox with no real socket involved. Used by failure detector
// tests to simulate several peers in one process without binding ports.
type FakeNet struct {
	mu        sync.Mutex
	endpoints map[string]*fakeEndpoint
}

// NewFakeNet returns an empty fake network.
func NewFakeNet() *FakeNet {
	return &FakeNet{endpoints: make(map[string]*fakeEndpoint)}
}

// Listen registers a new fake endpoint at addr. Listening twice at the
// same address replaces the previous endpoint, mirroring a rebind.
func (n *FakeNet) Listen(addr *net.UDPAddr) (Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ep := &fakeEndpoint{
		net:    n,
		local:  addr,
		inbox:  make(chan fakeDatagram, 256),
		closed: make(chan struct{}),
	}
	n.endpoints[addr.String()] = ep
	return ep, nil
}

// deliver routes data from `from` to the endpoint listening at `to`. If
// no endpoint is listening there, the datagram is silently dropped, the
// same behavior a real UDP stack exhibits for a closed port.
func (n *FakeNet) deliver(from, to *net.UDPAddr, data []byte) error {
	n.mu.Lock()
	ep, ok := n.endpoints[to.String()]
	n.mu.Unlock()
	if !ok {
		return nil
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	select {
	case ep.inbox <- fakeDatagram{from: from, data: cp}:
		return nil
	default:
		return fmt.Errorf("netio: fake network queue full for %s", to)
	}
}

func (n *FakeNet) unregister(addr *net.UDPAddr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, addr.String())
}

type fakeEndpoint struct {
	net   *FakeNet
	local *net.UDPAddr
	inbox chan fakeDatagram

	closeOnce sync.Once
	closed    chan struct{}
}

func (e *fakeEndpoint) LocalAddr() *net.UDPAddr {
	return e.local
}

func (e *fakeEndpoint) SendTo(addr *net.UDPAddr, data []byte) error {
	return e.net.deliver(e.local, addr, data)
}

func (e *fakeEndpoint) ReadFrom(buf []byte) (int, *net.UDPAddr, error) {
	select {
	case dgram := <-e.inbox:
		n := copy(buf, dgram.data)
		return n, dgram.from, nil
	case <-e.closed:
		return 0, nil, ErrClosed
	}
}

func (e *fakeEndpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.net.unregister(e.local)
	})
	return nil
}
