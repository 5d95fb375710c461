package transport

import "errors"

// ErrWouldBlock is the transient outcome of an operation that could not make progress
// right now. It is not a failure; no state was changed.
var ErrWouldBlock = errors.New("operation would block")

// Shared error vocabulary. Each layer defines its own sentinels and makes them unwrap to
// one of these, so the next layer up can translate without knowing the concrete type.
var (
	// ErrNoAvailableSockets indicates that no handle could be reserved.
	ErrNoAvailableSockets = errors.New("no available sockets")

	// ErrConnectionRefused indicates that the connection could not be established.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrSocketNotOpen indicates that the handle has no open connection.
	ErrSocketNotOpen = errors.New("socket not open")

	// ErrReadError indicates an unrecoverable receive failure.
	ErrReadError = errors.New("read error")

	// ErrWriteError indicates an unrecoverable transmit failure.
	ErrWriteError = errors.New("write error")

	// ErrTimeout indicates that a bounded operation ran out of budget.
	ErrTimeout = errors.New("timeout")

	// ErrBusy indicates that a shared resource was held by another task.
	ErrBusy = errors.New("resource busy")

	// ErrUnsupported indicates a request outside of what the layer implements.
	ErrUnsupported = errors.New("unsupported")

	// ErrNoIPAddress indicates that the interface has no address assigned.
	ErrNoIPAddress = errors.New("no ip address")
)

// IsTransient reports whether err asks the caller to simply retry later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrWouldBlock) || errors.Is(err, ErrBusy)
}
