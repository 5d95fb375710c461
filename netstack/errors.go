package netstack

import (
	"errors"

	"github.com/dice-ticker/dice-net/transport"
)

// stackError is a socket multiplexer error. It unwraps to the shared transport vocabulary.
type stackError struct {
	msg  string
	kind error
}

func (e *stackError) Error() string { return "netstack: " + e.msg }

func (e *stackError) Unwrap() error { return e.kind }

var (
	// ErrNoSocket indicates that every socket of the pool is in use.
	ErrNoSocket error = &stackError{"no socket available", transport.ErrNoAvailableSockets}

	// ErrConnectionFailure indicates that the socket could not start a connection.
	ErrConnectionFailure error = &stackError{"connection failure", transport.ErrConnectionRefused}

	// ErrSocketNotOpen indicates that the handle does not refer to an open socket.
	ErrSocketNotOpen error = &stackError{"socket not open", transport.ErrSocketNotOpen}

	// ErrReadFailure indicates that the socket failed to deliver received data.
	ErrReadFailure error = &stackError{"read failure", transport.ErrReadError}

	// ErrWriteFailure indicates that the socket refused data for transmission.
	ErrWriteFailure error = &stackError{"write failure", transport.ErrWriteError}

	// ErrUnsupported indicates a blocking mode or a non IPv4 remote address.
	ErrUnsupported error = &stackError{"unsupported", transport.ErrUnsupported}

	// ErrNoIPAddress indicates that the interface has no address assigned.
	ErrNoIPAddress error = &stackError{"no ip address", transport.ErrNoIPAddress}

	// ErrTimeout indicates that a socket stayed half-open for too long.
	ErrTimeout error = &stackError{"timeout", transport.ErrTimeout}

	// ErrBusy indicates that the pool or the interface was held by another task.
	ErrBusy error = &stackError{"busy", transport.ErrBusy}
)

var (
	// ErrInvalidTransition is returned when the link status is moved to a state that is not
	// reachable from the current one.
	ErrInvalidTransition = errors.New("invalid link status transition")

	// ErrInvalidSockets is returned by New when the socket list is empty or larger than
	// MaxSockets.
	ErrInvalidSockets = errors.New("socket count must be in range of [1, 16]")

	// ErrInterfaceNil is returned by New when no interface is given.
	ErrInterfaceNil = errors.New("interface is nil")
)
