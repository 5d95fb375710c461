package tlslayer

import (
	"crypto/x509"
	"io"
)

// BIO is the transport of an Engine. Send and Recv never block: they report ErrWantWrite
// and ErrWantRead when the underlying transport cannot make progress. Recv returns (0, nil)
// once the peer closed the connection.
type BIO interface {
	Send(p []byte) (int, error)
	Recv(p []byte) (int, error)
}

// Engine is a TLS client engine.
//
// Write and Read never block. When they cannot complete they return ErrWantRead,
// ErrWantWrite or ErrInProgress, and must be called again with the same arguments. The
// handshake runs implicitly inside the first Write or Read after Reset.
type Engine interface {
	// Write encrypts p and sends it through the BIO. It returns the number of
	// plaintext bytes consumed, which may be less than len(p).
	Write(p []byte) (int, error)
	// Read decrypts received data into p. It returns (0, nil) when the peer
	// closed the session in an orderly way.
	Read(p []byte) (int, error)
	// CloseNotify sends a close_notify alert. It is best effort.
	CloseNotify() error
	// Reset discards the session; the next Write or Read starts a new handshake.
	Reset() error
}

// EngineConfig holds the TLS settings handed to an EngineFactory.
type EngineConfig struct {
	// ServerName is sent as SNI and, when verification is enabled, checked against
	// the peer certificate.
	ServerName string
	// RootCAs is the set of trusted roots used for verification.
	RootCAs *x509.CertPool
	// InsecureSkipVerify disables verification of the peer certificate chain.
	InsecureSkipVerify bool
}

// EngineFactory constructs an Engine. bio stays valid for the whole lifetime of the
// engine and rand is the seeded entropy source.
type EngineFactory func(bio BIO, rand io.Reader, cfg EngineConfig) (Engine, error)
