package netstack

import (
	"fmt"
	"math/rand/v2"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dice-ticker/dice-net/logger"
	"github.com/dice-ticker/dice-net/netif"
	"github.com/dice-ticker/dice-net/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// MaxSockets is the capacity limit of the socket pool.
const MaxSockets = 16

// slot is the bookkeeping of one pool entry.
type slot struct {
	sock     netif.TCPSocket
	inUse    bool
	port     uint16
	halfOpen int
}

// NetworkStack is the socket multiplexer. It implements transport.Transport.
type NetworkStack struct {
	sockMu     sync.Mutex // protects slots, free, sockets and portSource
	slots      []slot
	free       []transport.Handle
	sockets    []netif.TCPSocket
	portSource rand.Source

	ifaceMu sync.Mutex // protects iface and dhcp
	iface   netif.Interface
	dhcp    netif.DHCPClient

	addr  atomic.Pointer[netip.Prefix]
	dns   atomic.Pointer[[netif.MaxDNSServers]netip.Addr]
	ports *xsync.MapOf[uint16, transport.Handle]

	halfOpenLimit int
	logger        logger.Logger
	metrics       *StackMetrics
}

var _ transport.Transport = (*NetworkStack)(nil)

// New creates a NetworkStack over iface using the given sockets as its pool.
//
// The sockets must not be used by anything else afterwards. The current address of iface
// becomes the initial address of the stack.
func New(iface netif.Interface, sockets []netif.TCPSocket, opts ...Option) (*NetworkStack, error) {
	if iface == nil {
		return nil, ErrInterfaceNil
	}
	if len(sockets) == 0 || len(sockets) > MaxSockets {
		return nil, ErrInvalidSockets
	}

	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	s := &NetworkStack{
		slots:         make([]slot, len(sockets)),
		free:          make([]transport.Handle, 0, len(sockets)),
		sockets:       make([]netif.TCPSocket, len(sockets)),
		portSource:    cfg.portSource,
		iface:         iface,
		dhcp:          cfg.dhcp,
		ports:         xsync.NewMapOf[uint16, transport.Handle](),
		halfOpenLimit: cfg.halfOpenLimit,
		logger:        cfg.logger.With("component", "netstack"),
		metrics:       &StackMetrics{},
	}

	copy(s.sockets, sockets)
	for i, sock := range sockets {
		s.slots[i].sock = sock
	}
	// the lowest handle is popped first
	for i := len(sockets) - 1; i >= 0; i-- {
		s.free = append(s.free, transport.Handle(i))
	}

	addr := iface.IPv4Addr()
	s.addr.Store(&addr)
	s.dns.Store(&[netif.MaxDNSServers]netip.Addr{})

	return s, nil
}

// Metrics returns the metrics of the stack.
func (s *NetworkStack) Metrics() *StackMetrics {
	return s.metrics
}

// IsIPUnspecified reports whether the interface has no usable address. It never blocks.
func (s *NetworkStack) IsIPUnspecified() bool {
	addr := s.addr.Load()
	return addr == nil || !addr.IsValid() || addr.Addr().IsUnspecified()
}

// IPv4Addr returns the current interface address.
func (s *NetworkStack) IPv4Addr() netip.Prefix {
	if addr := s.addr.Load(); addr != nil {
		return *addr
	}

	return netip.Prefix{}
}

// DNSServers returns the DNS servers of the last accepted lease.
func (s *NetworkStack) DNSServers() []netip.Addr {
	servers := s.dns.Load()
	result := make([]netip.Addr, 0, netif.MaxDNSServers)
	for _, srv := range servers {
		if srv.IsValid() {
			result = append(result, srv)
		}
	}

	return result
}

// Available returns the number of free handles.
func (s *NetworkStack) Available() int {
	s.sockMu.Lock()
	defer s.sockMu.Unlock()

	return len(s.free)
}

// Open reserves a socket handle. Only transport.ModeNonBlocking is supported.
//
// Open fails with ErrNoIPAddress, without touching the pool, while the interface is
// unconfigured.
func (s *NetworkStack) Open(mode transport.Mode) (transport.Handle, error) {
	if s.IsIPUnspecified() {
		return 0, ErrNoIPAddress
	}
	if mode != transport.ModeNonBlocking {
		return 0, ErrUnsupported
	}

	if !s.sockMu.TryLock() {
		return 0, ErrBusy
	}
	defer s.sockMu.Unlock()

	n := len(s.free)
	if n == 0 {
		s.logger.Warn("socket pool exhausted", "capacity", len(s.slots))
		return 0, ErrNoSocket
	}

	h := s.free[n-1]
	s.free = s.free[:n-1]

	sl := &s.slots[h]
	// a handle back on the free list may still carry state of its previous connection
	sl.sock.Abort()
	s.releasePortLocked(sl)
	sl.inUse = true
	sl.halfOpen = 0

	s.metrics.incOpenCount()
	s.logger.Debug("socket opened", "handle", h)

	return h, nil
}

// Connect starts a connection from h to remote on a fresh ephemeral port.
//
// Calling Connect on a socket that is already open returns h unchanged.
func (s *NetworkStack) Connect(h transport.Handle, remote netip.AddrPort) (transport.Handle, error) {
	if !s.validHandle(h) {
		return h, ErrSocketNotOpen
	}

	s.sockMu.Lock()
	defer s.sockMu.Unlock()

	sl := &s.slots[h]
	if !sl.inUse {
		return h, ErrSocketNotOpen
	}

	if s.IsIPUnspecified() {
		s.closeLocked(h)
		return h, ErrNoIPAddress
	}

	if sl.sock.IsOpen() {
		return h, nil
	}

	if !remote.Addr().Is4() {
		return h, ErrUnsupported
	}

	port := s.allocatePortLocked(h)
	sl.port = port

	if err := sl.sock.Connect(remote, port); err != nil {
		s.logger.Warn("socket connect failed", "handle", h, "remote", remote, "local_port", port, "error", err)
		s.metrics.incConnectErrCount()
		s.closeLocked(h)

		return h, ErrConnectionFailure
	}

	s.metrics.incConnectCount()
	s.logger.Debug("socket connecting", "handle", h, "remote", remote, "local_port", port)

	return h, nil
}

// IsConnected reports whether both directions of the connection on h are open.
func (s *NetworkStack) IsConnected(h transport.Handle) (bool, error) {
	if s.IsIPUnspecified() {
		return false, ErrNoIPAddress
	}
	if !s.validHandle(h) {
		return false, ErrSocketNotOpen
	}

	s.sockMu.Lock()
	defer s.sockMu.Unlock()

	sock := s.slots[h].sock

	return sock.MaySend() && sock.MayRecv(), nil
}

// Write queues p for transmission on h and returns the number of bytes accepted.
//
// It returns transport.ErrWouldBlock when the pool is held by another task or the
// transmit buffer is full.
func (s *NetworkStack) Write(h transport.Handle, p []byte) (int, error) {
	if s.IsIPUnspecified() {
		return 0, ErrNoIPAddress
	}
	if !s.validHandle(h) {
		return 0, ErrSocketNotOpen
	}

	if !s.sockMu.TryLock() {
		s.metrics.incWouldBlockCount()
		return 0, transport.ErrWouldBlock
	}
	defer s.sockMu.Unlock()

	sl := &s.slots[h]
	if !sl.inUse || !sl.sock.IsActive() {
		return 0, ErrSocketNotOpen
	}
	if len(p) == 0 {
		return 0, nil
	}
	if !sl.sock.CanSend() {
		s.metrics.incWouldBlockCount()
		return 0, transport.ErrWouldBlock
	}

	n, err := sl.sock.Send(p)
	if err != nil {
		s.logger.Debug("socket send failed", "handle", h, "error", err)
		return n, ErrWriteFailure
	}
	s.metrics.addBytesSent(n)

	return n, nil
}

// Read copies received bytes of h into p.
//
// It returns transport.ErrWouldBlock when the pool is held by another task or no data has
// arrived yet, and (0, nil) once the peer closed its half and the buffer is drained.
func (s *NetworkStack) Read(h transport.Handle, p []byte) (int, error) {
	if s.IsIPUnspecified() {
		return 0, ErrNoIPAddress
	}
	if !s.validHandle(h) {
		return 0, ErrSocketNotOpen
	}

	if !s.sockMu.TryLock() {
		s.metrics.incWouldBlockCount()
		return 0, transport.ErrWouldBlock
	}
	defer s.sockMu.Unlock()

	sl := &s.slots[h]
	if !sl.inUse || !sl.sock.IsOpen() {
		return 0, ErrSocketNotOpen
	}
	if len(p) == 0 {
		return 0, nil
	}

	if !sl.sock.CanRecv() {
		if !sl.sock.MayRecv() && sl.sock.State() != netif.SocketSynSent {
			// peer closed and everything was consumed
			return 0, nil
		}
		s.metrics.incWouldBlockCount()

		return 0, transport.ErrWouldBlock
	}

	n, err := sl.sock.Recv(p)
	if err != nil {
		s.logger.Debug("socket recv failed", "handle", h, "error", err)
		return n, ErrReadFailure
	}
	s.metrics.addBytesRecv(n)

	return n, nil
}

// Close releases the port bound by h, closes the socket and returns h to the free list.
//
// Closing a handle that is already free is logged and otherwise ignored.
func (s *NetworkStack) Close(h transport.Handle) error {
	if !s.validHandle(h) {
		return ErrSocketNotOpen
	}

	s.sockMu.Lock()
	defer s.sockMu.Unlock()

	s.closeLocked(h)

	return nil
}

// closeLocked must be called with sockMu held.
func (s *NetworkStack) closeLocked(h transport.Handle) {
	sl := &s.slots[h]
	if !sl.inUse {
		s.logger.Warn("close of a free socket handle ignored", "handle", h)
		return
	}

	s.releasePortLocked(sl)
	sl.sock.Close()
	sl.inUse = false
	sl.halfOpen = 0
	s.free = append(s.free, h)

	s.metrics.incCloseCount()
	s.logger.Debug("socket closed", "handle", h)
}

// Poll drives the interface and the DHCP client once.
//
// Poll never blocks: when the pool or the interface is held by another task the cycle is
// skipped and (false, nil) is returned. The boolean reports whether any socket or the
// address configuration changed.
func (s *NetworkStack) Poll(now time.Time) (bool, error) {
	if !s.sockMu.TryLock() {
		s.metrics.incPollSkipCount()
		return false, nil
	}
	defer s.sockMu.Unlock()

	if !s.ifaceMu.TryLock() {
		s.metrics.incPollSkipCount()
		return false, nil
	}
	defer s.ifaceMu.Unlock()

	updated, err := s.iface.Poll(now, s.sockets)
	if err != nil {
		return false, fmt.Errorf("interface poll: %w", err)
	}
	s.metrics.incPollCount()

	if s.reapHalfOpenLocked() {
		updated = true
	}

	if s.dhcp == nil {
		return updated, nil
	}

	lease, err := s.dhcp.Poll(now)
	if err != nil {
		return updated, fmt.Errorf("dhcp poll: %w", err)
	}
	if lease != nil {
		s.applyLeaseLocked(lease)
		updated = true
	}

	return updated, nil
}

// applyLeaseLocked must be called with sockMu and ifaceMu held.
func (s *NetworkStack) applyLeaseLocked(lease *netif.Lease) {
	s.metrics.incLeaseCount()

	addr := lease.Address
	if addr.IsValid() && isUnicast(addr.Addr()) {
		cur := s.iface.IPv4Addr()
		if !cur.IsValid() || cur.Addr().IsUnspecified() || cur.Addr() != addr.Addr() {
			// sockets must never observe a live address change
			aborted := s.abortAllLocked()
			s.iface.SetIPv4Addr(addr)
			s.addr.Store(&addr)
			s.logger.Info("dhcp lease accepted", "addr", addr, "prev_addr", cur, "aborted_sockets", aborted)
		}
	}

	dns := lease.DNSServers
	s.dns.Store(&dns)

	if lease.Router.IsValid() {
		if err := s.iface.AddDefaultRoute(lease.Router); err != nil {
			s.logger.Warn("failed to add default route", "router", lease.Router, "error", err)
		}
	}
}

// reapHalfOpenLocked aborts sockets that stayed half-open for more than halfOpenLimit
// poll cycles.
//
// Must be called with sockMu held.
func (s *NetworkStack) reapHalfOpenLocked() bool {
	if s.halfOpenLimit <= 0 {
		return false
	}

	reaped := false
	for i := range s.slots {
		sl := &s.slots[i]
		// free slots are included: a socket closed from Established lingers in FinWait
		// until the peer answers
		if !sl.sock.State().IsHalfOpen() {
			sl.halfOpen = 0
			continue
		}

		sl.halfOpen++
		if sl.halfOpen > s.halfOpenLimit {
			s.logger.Warn("aborting half-open socket", "handle", i, "in_use", sl.inUse, "state", sl.sock.State(), "cycles", sl.halfOpen)
			sl.sock.Abort()
			sl.halfOpen = 0
			s.metrics.incHalfOpenReapCount()
			s.metrics.addAbortCount(1)
			reaped = true
		}
	}

	return reaped
}

// CloseSockets force-aborts every socket of the pool. Handles stay reserved by their
// owners, which observe ErrSocketNotOpen and close them.
func (s *NetworkStack) CloseSockets() error {
	if !s.sockMu.TryLock() {
		return ErrBusy
	}
	defer s.sockMu.Unlock()

	s.abortAllLocked()

	return nil
}

// abortAllLocked must be called with sockMu held.
func (s *NetworkStack) abortAllLocked() int {
	aborted := 0
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.sock.IsOpen() {
			aborted++
		}
		sl.sock.Abort()
		sl.halfOpen = 0
	}
	s.metrics.addAbortCount(aborted)

	return aborted
}

// HandleLinkReset is called when the physical link is lost. It resets the DHCP client,
// aborts every socket and leaves the interface without an address.
//
// It returns ErrBusy without changing anything when the pool or the interface is held by
// another task; the caller retries on its next cycle.
func (s *NetworkStack) HandleLinkReset() error {
	if !s.sockMu.TryLock() {
		return ErrBusy
	}
	defer s.sockMu.Unlock()

	if !s.ifaceMu.TryLock() {
		return ErrBusy
	}
	defer s.ifaceMu.Unlock()

	if s.dhcp != nil {
		s.dhcp.Reset(time.Now())
	}

	aborted := s.abortAllLocked()

	unspecified := netip.PrefixFrom(netip.IPv4Unspecified(), 0)
	s.iface.SetIPv4Addr(unspecified)
	s.iface.RemoveDefaultRoute()
	s.addr.Store(&unspecified)
	s.dns.Store(&[netif.MaxDNSServers]netip.Addr{})

	s.metrics.incLinkResetCount()
	s.logger.Info("link reset, interface deconfigured", "aborted_sockets", aborted)

	return nil
}

func (s *NetworkStack) validHandle(h transport.Handle) bool {
	return int(h) < len(s.slots)
}

func isUnicast(addr netip.Addr) bool {
	return addr.Is4() &&
		!addr.IsUnspecified() &&
		!addr.IsMulticast() &&
		addr != netip.AddrFrom4([4]byte{255, 255, 255, 255})
}
