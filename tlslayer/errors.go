package tlslayer

import (
	"errors"

	"github.com/dice-ticker/dice-net/transport"
)

// tlsError is a secure transport error. It unwraps to the shared transport vocabulary.
type tlsError struct {
	msg  string
	kind error
}

func (e *tlsError) Error() string { return "tlslayer: " + e.msg }

func (e *tlsError) Unwrap() error { return e.kind }

var (
	// ErrCannotConnect indicates that the session could not be opened or connected.
	ErrCannotConnect error = &tlsError{"cannot connect", transport.ErrConnectionRefused}

	// ErrCannotRead indicates that the session failed while reading and was reset.
	ErrCannotRead error = &tlsError{"cannot read", transport.ErrReadError}

	// ErrCannotWrite indicates that the session failed while writing and was reset.
	ErrCannotWrite error = &tlsError{"cannot write", transport.ErrWriteError}

	// ErrTimeout indicates that the underlying transport timed out.
	ErrTimeout error = &tlsError{"timeout", transport.ErrTimeout}

	// ErrBusy indicates that the session or the underlying transport was held by another
	// task. Nothing was changed.
	ErrBusy error = &tlsError{"busy", transport.ErrBusy}
)

var (
	// ErrUninitialized is returned by every operation called before Init.
	ErrUninitialized = errors.New("tlslayer: not initialized")

	// ErrAlreadyInitialized is returned by a second call to Init.
	ErrAlreadyInitialized = errors.New("tlslayer: already initialized")

	// ErrEntropyUnavailable indicates that the entropy source could not provide a seed.
	// The device cannot establish secure sessions without it.
	ErrEntropyUnavailable = errors.New("tlslayer: entropy source unavailable")

	// ErrEngineInit indicates that the TLS engine could not be constructed.
	ErrEngineInit = errors.New("tlslayer: engine initialization failed")
)

// Engine results asking the caller to call again once the transport can make progress.
var (
	// ErrWantRead indicates that the engine needs more data from the peer.
	ErrWantRead = errors.New("tlslayer: engine wants read")

	// ErrWantWrite indicates that the engine has data the transport could not take yet.
	ErrWantWrite = errors.New("tlslayer: engine wants write")

	// ErrInProgress indicates that an operation started by an earlier call has not
	// finished yet.
	ErrInProgress = errors.New("tlslayer: operation in progress")
)

// isRetryable reports whether an engine result consumes retry budget instead of failing
// the session.
func isRetryable(err error) bool {
	return errors.Is(err, ErrWantRead) || errors.Is(err, ErrWantWrite) || errors.Is(err, ErrInProgress)
}

// translateConnect maps an error of the underlying transport raised while opening or
// connecting into the vocabulary of this layer.
func translateConnect(err error) error {
	switch {
	case errors.Is(err, transport.ErrBusy), errors.Is(err, transport.ErrWouldBlock):
		return ErrBusy
	case errors.Is(err, transport.ErrTimeout):
		return ErrTimeout
	default:
		return ErrCannotConnect
	}
}
