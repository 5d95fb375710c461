// Package netif is the boundary between the socket multiplexer and the interface poll
// engine that moves frames on and off the link.
//
// The engine owns TCP socket state machines and their fixed buffers, and only makes
// progress inside Poll. Nothing in this package blocks.
package netif

import (
	"net/netip"
	"time"
)

// SocketState is the TCP state of a socket as seen by the multiplexer.
type SocketState uint8

const (
	// SocketClosed indicates that the socket holds no connection.
	SocketClosed SocketState = iota
	// SocketSynSent indicates that an active open is in progress.
	SocketSynSent
	// SocketEstablished indicates that data can flow in both directions.
	SocketEstablished
	// SocketFinWait indicates that the local side has closed its half.
	SocketFinWait
	// SocketCloseWait indicates that the peer has closed its half.
	SocketCloseWait
)

// IsOpen returns if the state holds a connection in any phase.
func (s SocketState) IsOpen() bool { return s != SocketClosed }

// IsHalfOpen returns if exactly one direction of the connection has been shut down, or
// the connection has not completed yet.
func (s SocketState) IsHalfOpen() bool {
	return s == SocketSynSent || s == SocketFinWait || s == SocketCloseWait
}

// String returns string representation of the state.
func (s SocketState) String() string {
	switch s {
	case SocketClosed:
		return "closed"
	case SocketSynSent:
		return "syn-sent"
	case SocketEstablished:
		return "established"
	case SocketFinWait:
		return "fin-wait"
	case SocketCloseWait:
		return "close-wait"
	default:
		return "unknown"
	}
}

// TCPSocket is one TCP socket slot of the engine.
type TCPSocket interface {
	State() SocketState
	// IsOpen reports whether the socket holds a connection in any state.
	IsOpen() bool
	// IsActive reports whether the socket is neither closed nor listening.
	IsActive() bool
	// MaySend reports whether the local half of the connection is still open.
	MaySend() bool
	// MayRecv reports whether the remote half of the connection is still open.
	MayRecv() bool
	// CanSend reports whether the transmit buffer has room.
	CanSend() bool
	// CanRecv reports whether the receive buffer holds data.
	CanRecv() bool
	// Connect starts an active open from localPort to remote.
	Connect(remote netip.AddrPort, localPort uint16) error
	// Send copies as much of p as fits into the transmit buffer.
	Send(p []byte) (int, error)
	// Recv moves up to len(p) bytes out of the receive buffer.
	Recv(p []byte) (int, error)
	// LocalPort returns the bound local port, zero when unbound.
	LocalPort() uint16
	// Close starts an orderly shutdown of the local half.
	Close()
	// Abort drops the connection immediately and resets the socket.
	Abort()
}

// Interface is the interface poll engine.
type Interface interface {
	// Poll processes pending frames for the given sockets and reports whether any
	// socket state changed.
	Poll(now time.Time, sockets []TCPSocket) (bool, error)
	// IPv4Addr returns the configured address, the zero prefix when unconfigured.
	IPv4Addr() netip.Prefix
	// SetIPv4Addr replaces the configured address.
	SetIPv4Addr(addr netip.Prefix)
	// AddDefaultRoute installs router as the IPv4 default gateway.
	AddDefaultRoute(router netip.Addr) error
	// RemoveDefaultRoute removes the IPv4 default gateway.
	RemoveDefaultRoute()
	// LinkUp reports whether the physical carrier is present.
	LinkUp() bool
}

// MaxDNSServers is the number of DNS servers a lease can carry.
const MaxDNSServers = 3

// Lease is an accepted DHCP configuration.
type Lease struct {
	Address    netip.Prefix
	Router     netip.Addr
	DNSServers [MaxDNSServers]netip.Addr
}

// DHCPClient is polled alongside the interface and reports a lease when one was
// acquired or renewed.
type DHCPClient interface {
	// Poll returns a non-nil lease when a new configuration was acquired.
	Poll(now time.Time) (*Lease, error)
	// Reset drops the current lease and restarts discovery.
	Reset(now time.Time)
}
