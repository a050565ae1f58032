package lockstep

import (
	"net"
	"sync"
)

// fabric is a tiny in-memory packet network used by Receiver/Transmitter/
// Coordinator tests so they can exercise real datagram framing without
// binding actual UDP sockets.
type fabric struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
}

func newFabric() *fabric {
	return &fabric{conns: make(map[string]*fakeConn)}
}

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

type packet struct {
	data []byte
	from net.Addr
}

// fakeConn implements PacketConn over an in-process channel.
type fakeConn struct {
	addr   fakeAddr
	fab    *fabric
	inbox  chan packet
	closed chan struct{}
	once   sync.Once
}

func (f *fabric) newConn(addr string) *fakeConn {
	c := &fakeConn{
		addr:   fakeAddr(addr),
		fab:    f,
		inbox:  make(chan packet, 256),
		closed: make(chan struct{}),
	}
	f.mu.Lock()
	f.conns[addr] = c
	f.mu.Unlock()
	return c
}

func (c *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case pkt := <-c.inbox:
		n := copy(p, pkt.data)
		return n, pkt.from, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.fab.mu.Lock()
	dest, ok := c.fab.conns[addr.String()]
	c.fab.mu.Unlock()
	if !ok {
		return 0, net.ErrClosed
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case dest.inbox <- packet{data: buf, from: c.addr}:
		return len(p), nil
	case <-dest.closed:
		return 0, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakePeerTable adapts a set of fakeConn addresses into a PeerTable.
type fakePeerTable map[HostID]net.Addr

func (t fakePeerTable) AddrOf(peer HostID) (net.Addr, bool) {
	a, ok := t[peer]
	return a, ok
}
