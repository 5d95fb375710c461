// Package transport defines the Transport Capability: the uniform
// open/connect/read/write/close contract shared by the socket multiplexer and the
// secure session layer.
//
// A consumer drives a connection as
//
//	h, err := t.Open(transport.ModeNonBlocking)
//	h, err = t.Connect(h, remote)
//	n, err := t.Write(h, req)
//	n, err = t.Read(h, buf)
//	t.Close(h)
//
// and never learns whether TLS is interposed. Write and Read may report ErrWouldBlock,
// which asks the caller to retry on its next scheduled slot without resetting anything.
package transport

import (
	"net/netip"
)

// Mode is the I/O mode requested when opening a handle.
type Mode uint8

const (
	// ModeNonBlocking is the only mode the stack supports. Operations never wait and
	// report ErrWouldBlock instead.
	ModeNonBlocking Mode = iota
	// ModeBlocking is accepted by the contract but rejected by every implementation.
	ModeBlocking
)

// String returns string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeNonBlocking:
		return "non-blocking"
	case ModeBlocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// Handle is an opaque identifier of a logical connection.
type Handle uint16

// Transport is the capability implemented by every layer of the stack.
type Transport interface {
	// Open reserves a handle for a new connection.
	Open(mode Mode) (Handle, error)
	// Connect establishes the connection of h to remote. It may return a handle
	// different from h, callers must keep using the returned one.
	//
	// A failure matching ErrConnectionRefused or ErrNoIPAddress has already released h.
	Connect(h Handle, remote netip.AddrPort) (Handle, error)
	// IsConnected reports whether h can currently exchange data.
	IsConnected(h Handle) (bool, error)
	// Write queues p for transmission and returns the number of bytes accepted.
	Write(h Handle, p []byte) (int, error)
	// Read copies received bytes into p. It returns (0, nil) once the peer has closed
	// the connection and every byte was consumed.
	Read(h Handle, p []byte) (int, error)
	// Close releases h. Closing a handle twice is a caller bug.
	Close(h Handle) error
}
