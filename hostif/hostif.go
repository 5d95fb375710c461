// Package hostif implements the interface poll engine of package netif on top of the host
// operating system's TCP stack.
//
// Every Socket owns fixed receive and transmit buffers provided by the caller. Connection
// workers run in goroutines but only exchange data with a socket inside Interface.Poll,
// so socket state seen by the multiplexer changes exclusively during polling, the same as
// with a packet-processing engine.
package hostif

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dice-ticker/dice-net/internal/slab"
	"github.com/dice-ticker/dice-net/logger"
	"github.com/dice-ticker/dice-net/netif"
)

var (
	// ErrForeignSocket indicates a socket that was not created by the polled Interface.
	ErrForeignSocket = errors.New("hostif: socket does not belong to this interface")

	// ErrSocketInUse indicates a connect on a socket that is not closed.
	ErrSocketInUse = errors.New("hostif: socket in use")

	// ErrInvalidEndpoint indicates an unusable remote endpoint or local port.
	ErrInvalidEndpoint = errors.New("hostif: invalid endpoint")

	// ErrInvalidBuffer indicates an empty socket buffer.
	ErrInvalidBuffer = errors.New("hostif: socket buffers must not be empty")

	// ErrNotIPv4 indicates a router address that is not IPv4.
	ErrNotIPv4 = errors.New("hostif: not an IPv4 address")
)

// Interface is a netif.Interface backed by host TCP connections.
type Interface struct {
	mu     sync.Mutex // protects addr and router
	addr   netip.Prefix
	router netip.Addr

	link   atomic.Bool
	arena  *slab.Slab
	dial   DialFunc
	cfg    *Config
	logger logger.Logger

	metrics *InterfaceMetrics
}

var _ netif.Interface = (*Interface)(nil)

// New creates an Interface without an address.
func New(opts ...Option) (*Interface, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	iface := &Interface{
		arena:   slab.New(cfg.chunkSize, cfg.chunkCount),
		dial:    cfg.dial,
		cfg:     cfg,
		logger:  cfg.logger.With("component", "hostif"),
		metrics: &InterfaceMetrics{},
	}
	iface.link.Store(cfg.linkUp)

	if iface.dial == nil {
		d := &net.Dialer{Timeout: cfg.dialTimeout}
		iface.dial = d.DialContext
	}

	return iface, nil
}

// Metrics returns the metrics of the interface.
func (i *Interface) Metrics() *InterfaceMetrics {
	return i.metrics
}

// NewSocket creates a socket using rx and tx as its receive and transmit buffers.
func (i *Interface) NewSocket(rx []byte, tx []byte) (*Socket, error) {
	if len(rx) == 0 || len(tx) == 0 {
		return nil, ErrInvalidBuffer
	}

	return &Socket{
		iface: i,
		rx:    newRing(rx),
		tx:    newRing(tx),
	}, nil
}

// NewSockets creates n sockets with freshly allocated buffers of the given sizes.
func (i *Interface) NewSockets(n int, rxSize int, txSize int) ([]netif.TCPSocket, error) {
	sockets := make([]netif.TCPSocket, 0, n)
	for range n {
		sock, err := i.NewSocket(make([]byte, rxSize), make([]byte, txSize))
		if err != nil {
			return nil, err
		}
		sockets = append(sockets, sock)
	}

	return sockets, nil
}

// Poll exchanges pending data between the sockets and their connection workers and
// reports whether any socket changed.
func (i *Interface) Poll(now time.Time, sockets []netif.TCPSocket) (bool, error) {
	i.metrics.incPollCount()

	changed := false
	for _, s := range sockets {
		sock, ok := s.(*Socket)
		if !ok || sock.iface != i {
			return changed, ErrForeignSocket
		}

		if sock.poll(now) {
			changed = true
		}
	}

	return changed, nil
}

// IPv4Addr returns the configured address, the zero prefix when unconfigured.
func (i *Interface) IPv4Addr() netip.Prefix {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.addr
}

// SetIPv4Addr replaces the configured address.
func (i *Interface) SetIPv4Addr(addr netip.Prefix) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.logger.Debug("address set", "addr", addr, "prev_addr", i.addr)
	i.addr = addr
}

// AddDefaultRoute installs router as the IPv4 default gateway.
func (i *Interface) AddDefaultRoute(router netip.Addr) error {
	if !router.Is4() {
		return ErrNotIPv4
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.router = router

	return nil
}

// RemoveDefaultRoute removes the IPv4 default gateway.
func (i *Interface) RemoveDefaultRoute() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.router = netip.Addr{}
}

// DefaultRoute returns the installed default gateway, the zero Addr when none.
func (i *Interface) DefaultRoute() netip.Addr {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.router
}

// LinkUp reports whether the carrier is present.
func (i *Interface) LinkUp() bool {
	return i.link.Load()
}

// SetLinkUp changes the carrier state.
func (i *Interface) SetLinkUp(up bool) {
	if i.link.Swap(up) != up {
		i.logger.Info("carrier changed", "link_up", up)
	}
}

func (i *Interface) dialAddr(ctx context.Context, remote netip.AddrPort, localPort uint16) (net.Conn, error) {
	if !i.cfg.bindLocalPort {
		return i.dial(ctx, "tcp4", remote.String())
	}

	d := &net.Dialer{
		Timeout:   i.cfg.dialTimeout,
		LocalAddr: &net.TCPAddr{Port: int(localPort)},
	}

	return d.DialContext(ctx, "tcp4", remote.String())
}
