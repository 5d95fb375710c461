package netstack

import (
	"errors"
	"net/netip"
	"time"

	"github.com/dice-ticker/dice-net/netif"
)

// fakeSocket is a scripted netif.TCPSocket.
type fakeSocket struct {
	state      netif.SocketState
	localPort  uint16
	remote     netip.AddrPort
	rx         []byte
	tx         []byte
	txCap      int
	mayRecv    bool
	connectErr error
	aborts     int
	closes     int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{txCap: 64}
}

func (f *fakeSocket) State() netif.SocketState { return f.state }
func (f *fakeSocket) IsOpen() bool             { return f.state != netif.SocketClosed }
func (f *fakeSocket) IsActive() bool           { return f.state != netif.SocketClosed }
func (f *fakeSocket) MaySend() bool {
	return f.state == netif.SocketEstablished || f.state == netif.SocketCloseWait
}
func (f *fakeSocket) MayRecv() bool {
	return (f.state == netif.SocketEstablished || f.state == netif.SocketFinWait) && f.mayRecv
}
func (f *fakeSocket) CanSend() bool { return f.MaySend() && len(f.tx) < f.txCap }
func (f *fakeSocket) CanRecv() bool { return len(f.rx) > 0 }

func (f *fakeSocket) Connect(remote netip.AddrPort, localPort uint16) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = netif.SocketSynSent
	f.remote = remote
	f.localPort = localPort

	return nil
}

func (f *fakeSocket) Send(p []byte) (int, error) {
	n := min(len(p), f.txCap-len(f.tx))
	f.tx = append(f.tx, p[:n]...)
	return n, nil
}

func (f *fakeSocket) Recv(p []byte) (int, error) {
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakeSocket) LocalPort() uint16 { return f.localPort }

func (f *fakeSocket) Close() {
	f.closes++
	if f.state == netif.SocketSynSent {
		f.reset()
		return
	}
	if f.state == netif.SocketEstablished {
		f.state = netif.SocketFinWait
	}
}

func (f *fakeSocket) Abort() {
	f.aborts++
	f.reset()
}

func (f *fakeSocket) reset() {
	f.state = netif.SocketClosed
	f.localPort = 0
	f.rx = nil
	f.tx = nil
	f.mayRecv = false
}

// establish completes the handshake of a connecting socket.
func (f *fakeSocket) establish() {
	f.state = netif.SocketEstablished
	f.mayRecv = true
}

// fakeIface is a netif.Interface that keeps the address and counts polls.
type fakeIface struct {
	addr    netip.Prefix
	router  netip.Addr
	linkUp  bool
	polls   int
	pollErr error
}

func newFakeIface(addr string) *fakeIface {
	f := &fakeIface{linkUp: true}
	if addr != "" {
		f.addr = netip.MustParsePrefix(addr)
	}

	return f
}

func (f *fakeIface) Poll(_ time.Time, _ []netif.TCPSocket) (bool, error) {
	f.polls++
	return false, f.pollErr
}

func (f *fakeIface) IPv4Addr() netip.Prefix        { return f.addr }
func (f *fakeIface) SetIPv4Addr(addr netip.Prefix) { f.addr = addr }
func (f *fakeIface) AddDefaultRoute(r netip.Addr) error {
	f.router = r
	return nil
}
func (f *fakeIface) RemoveDefaultRoute() { f.router = netip.Addr{} }
func (f *fakeIface) LinkUp() bool        { return f.linkUp }

// fakeDHCP hands out queued leases, one per poll.
type fakeDHCP struct {
	leases []*netif.Lease
	resets int
}

func (f *fakeDHCP) Poll(time.Time) (*netif.Lease, error) {
	if len(f.leases) == 0 {
		return nil, nil
	}
	lease := f.leases[0]
	f.leases = f.leases[1:]

	return lease, nil
}

func (f *fakeDHCP) Reset(time.Time) { f.resets++ }

// seqSource yields the given offsets from the dynamic range start, then repeats the last.
type seqSource struct {
	offsets []uint64
	idx     int
}

func (s *seqSource) Uint64() uint64 {
	v := s.offsets[min(s.idx, len(s.offsets)-1)]
	s.idx++
	return v
}

var errFakeConnect = errors.New("fake connect error")

func newTestStack(addr string, n int, opts ...Option) (*NetworkStack, *fakeIface, []*fakeSocket) {
	iface := newFakeIface(addr)
	fakes := make([]*fakeSocket, n)
	sockets := make([]netif.TCPSocket, n)
	for i := range fakes {
		fakes[i] = newFakeSocket()
		sockets[i] = fakes[i]
	}

	stack, err := New(iface, sockets, opts...)
	if err != nil {
		panic(err)
	}

	return stack, iface, fakes
}
