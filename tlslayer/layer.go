package tlslayer

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dice-ticker/dice-net/logger"
	"github.com/dice-ticker/dice-net/transport"
	"github.com/google/uuid"
)

// SessionHandle is the only handle a Layer ever returns.
const SessionHandle transport.Handle = 0

const seedSize = 32

// Layer is a TLS client session over a lower transport.Transport. It implements
// transport.Transport itself.
type Layer struct {
	mu        sync.Mutex // serializes operations, protects the fields below
	lower     transport.Transport
	engine    Engine
	socket    transport.Handle
	hasSocket bool
	sessionID uuid.UUID

	state   atomic.Uint32
	cfg     *Config
	logger  logger.Logger
	metrics *SessionMetrics
}

var _ transport.Transport = (*Layer)(nil)

// New creates a Layer over lower. The Layer must be initialized with Init before use.
func New(lower transport.Transport, opts ...Option) (*Layer, error) {
	if lower == nil {
		return nil, errors.New("lower transport is nil")
	}

	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	l := &Layer{
		lower:   lower,
		cfg:     cfg,
		logger:  cfg.logger.With("component", "tlslayer"),
		metrics: &SessionMetrics{},
	}
	l.state.Store(uint32(StateBeforeInit))

	return l, nil
}

// Init seeds the layer from entropy and constructs the engine. It leaves StateBeforeInit
// and can succeed only once.
//
// A failure is fatal to the device: it wraps ErrEntropyUnavailable or ErrEngineInit.
func (l *Layer) Init(entropy io.Reader) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() != StateBeforeInit {
		return ErrAlreadyInitialized
	}

	if entropy == nil {
		return ErrEntropyUnavailable
	}
	seed := make([]byte, seedSize)
	if _, err := io.ReadFull(entropy, seed); err != nil {
		return fmt.Errorf("%w: %w", ErrEntropyUnavailable, err)
	}

	engine, err := l.cfg.newEngine(&lowerBIO{layer: l}, entropy, l.cfg.engineCfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEngineInit, err)
	}
	l.engine = engine

	if l.cfg.engineCfg.InsecureSkipVerify {
		l.logger.Warn("peer certificate verification is disabled")
	}
	l.setState(StateNotConnected)
	l.logger.Debug("tls layer initialized", "server_name", l.cfg.engineCfg.ServerName)

	return nil
}

// State returns the current session state.
func (l *Layer) State() State {
	return State(l.state.Load())
}

func (l *Layer) setState(s State) {
	l.state.Store(uint32(s))
}

// Metrics returns the metrics of the layer.
func (l *Layer) Metrics() *SessionMetrics {
	return l.metrics
}

// SessionID returns the identifier of the current or last session.
func (l *Layer) SessionID() uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sessionID
}

// Open opens a socket on the lower transport and returns SessionHandle.
func (l *Layer) Open(mode transport.Mode) (transport.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() == StateBeforeInit {
		return SessionHandle, ErrUninitialized
	}

	h, err := l.lower.Open(mode)
	if err != nil && l.hasSocket && !transport.IsTransient(err) {
		// the stale socket of a session that was never closed may hold the last slot
		l.releaseStaleLocked()
		h, err = l.lower.Open(mode)
	}
	if err != nil {
		l.logger.Debug("lower open failed", "error", err)
		return SessionHandle, translateConnect(err)
	}

	if l.hasSocket {
		l.releaseStaleLocked()
	}
	l.socket = h
	l.hasSocket = true

	return SessionHandle, nil
}

// Connect connects the lower socket to remote and starts a new session. The handshake is
// performed by the first Write or Read.
func (l *Layer) Connect(_ transport.Handle, remote netip.AddrPort) (transport.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() == StateBeforeInit {
		return SessionHandle, ErrUninitialized
	}
	if !l.hasSocket {
		return SessionHandle, ErrCannotConnect
	}

	h, err := l.lower.Connect(l.socket, remote)
	if err != nil {
		l.logger.Debug("lower connect failed", "remote", remote, "error", err)
		if transport.IsTransient(err) {
			return SessionHandle, ErrBusy
		}

		if errors.Is(err, transport.ErrConnectionRefused) || errors.Is(err, transport.ErrNoIPAddress) {
			// already released by the lower transport
			l.hasSocket = false
		} else {
			l.closeLowerLocked()
		}

		return SessionHandle, translateConnect(err)
	}
	l.socket = h

	if err := l.engine.Reset(); err != nil {
		l.logger.Warn("engine reset failed", "error", err)
	}
	l.sessionID = uuid.New()
	l.setState(StateConnected)
	l.metrics.incSessionCount()
	l.logger.Debug("session connected", "session_id", l.sessionID, "remote", remote)

	return SessionHandle, nil
}

// IsConnected reports whether a session is established. It never fails.
func (l *Layer) IsConnected(_ transport.Handle) (bool, error) {
	return l.State() == StateConnected, nil
}

// Write encrypts and sends all of p. Partial progress of the engine is continued within
// the same call.
//
// Any engine failure or exhaustion of the retry budget resets the session, closes the
// lower socket and returns ErrCannotWrite.
func (l *Layer) Write(_ transport.Handle, p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.State() {
	case StateBeforeInit:
		return 0, ErrUninitialized
	case StateNotConnected:
		return 0, ErrCannotWrite
	}

	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	retries := 0
	for offset < len(p) {
		if retries >= l.cfg.retryBudget {
			l.logger.Warn("write retry budget exhausted", "session_id", l.sessionID, "written", offset, "len", len(p))
			l.metrics.incTimeoutCount()
			l.teardownLocked()

			return offset, ErrCannotWrite
		}

		n, err := l.engine.Write(p[offset:])
		if err != nil {
			if isRetryable(err) {
				retries++
				l.metrics.incWriteRetryCount()
				l.yield()

				continue
			}

			l.logger.Warn("session write failed", "session_id", l.sessionID, "error", err)
			l.teardownLocked()

			return offset, ErrCannotWrite
		}

		offset += n
		l.metrics.addBytesWritten(n)
		if n == 0 {
			retries++
			l.metrics.incWriteRetryCount()
			l.yield()
		}
	}

	return offset, nil
}

// Read receives and decrypts data into p.
//
// A session closed in an orderly way by the peer yields (0, nil) and returns the layer
// to StateNotConnected. Any engine failure or exhaustion of the retry budget resets the
// session, closes the lower socket and returns ErrCannotRead.
func (l *Layer) Read(_ transport.Handle, p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.State() {
	case StateBeforeInit:
		return 0, ErrUninitialized
	case StateNotConnected:
		return 0, ErrCannotRead
	}

	if len(p) == 0 {
		return 0, nil
	}

	for retries := 0; ; {
		if retries >= l.cfg.retryBudget {
			l.logger.Warn("read retry budget exhausted", "session_id", l.sessionID)
			l.metrics.incTimeoutCount()
			l.teardownLocked()

			return 0, ErrCannotRead
		}

		n, err := l.engine.Read(p)
		switch {
		case err == nil && n > 0:
			l.metrics.addBytesRead(n)
			return n, nil

		case err == nil:
			l.logger.Debug("session closed by peer", "session_id", l.sessionID)
			l.metrics.incPeerCloseCount()
			l.teardownLocked()

			return 0, nil

		case isRetryable(err):
			retries++
			l.metrics.incReadRetryCount()
			l.yield()

		default:
			l.logger.Warn("session read failed", "session_id", l.sessionID, "error", err)
			l.teardownLocked()

			return 0, ErrCannotRead
		}
	}
}

// Close ends the session. A connected session is sent a best-effort close_notify first.
// The layer is in StateNotConnected afterwards.
func (l *Layer) Close(_ transport.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() == StateBeforeInit {
		return ErrUninitialized
	}

	if l.State() == StateConnected {
		if err := l.engine.CloseNotify(); err != nil {
			l.logger.Debug("close notify failed", "session_id", l.sessionID, "error", err)
		}
		l.logger.Debug("session closed", "session_id", l.sessionID)
	}

	l.closeLowerLocked()
	if err := l.engine.Reset(); err != nil {
		l.logger.Warn("engine reset failed", "error", err)
	}
	l.setState(StateNotConnected)

	return nil
}

// HandleDisconnected tears the session down after the link was lost. It never waits: when
// another task is inside the layer it returns ErrBusy and the caller retries later.
func (l *Layer) HandleDisconnected() error {
	if !l.mu.TryLock() {
		return ErrBusy
	}
	defer l.mu.Unlock()

	if l.State() != StateConnected {
		return nil
	}

	l.logger.Info("link lost, resetting session", "session_id", l.sessionID)
	l.teardownLocked()

	return nil
}

// teardownLocked resets the engine, closes the lower socket and returns to
// StateNotConnected. Must be called with mu held.
func (l *Layer) teardownLocked() {
	if err := l.engine.Reset(); err != nil {
		l.logger.Warn("engine reset failed", "error", err)
	}
	l.closeLowerLocked()
	l.setState(StateNotConnected)
	l.metrics.incSessionResetCount()
}

// closeLowerLocked must be called with mu held.
func (l *Layer) closeLowerLocked() {
	if !l.hasSocket {
		return
	}

	if err := l.lower.Close(l.socket); err != nil {
		l.logger.Debug("lower close failed", "socket", l.socket, "error", err)
	}
	l.hasSocket = false
}

// releaseStaleLocked closes the lower socket of a session that was never closed. Must be
// called with mu held.
func (l *Layer) releaseStaleLocked() {
	l.logger.Debug("releasing stale lower socket", "socket", l.socket)
	l.closeLowerLocked()
}

func (l *Layer) yield() {
	if l.cfg.retryDelay <= 0 {
		runtime.Gosched()
		return
	}

	time.Sleep(l.cfg.retryDelay)
}

// lowerBIO backs the engine I/O with the lower transport. It is only used by the engine
// while the Layer holds mu.
type lowerBIO struct {
	layer *Layer
}

func (b *lowerBIO) Send(p []byte) (int, error) {
	if !b.layer.hasSocket {
		return 0, ErrCannotWrite
	}

	n, err := b.layer.lower.Write(b.layer.socket, p)
	if errors.Is(err, transport.ErrWouldBlock) {
		return n, ErrWantWrite
	}

	return n, err
}

func (b *lowerBIO) Recv(p []byte) (int, error) {
	if !b.layer.hasSocket {
		return 0, ErrCannotRead
	}

	n, err := b.layer.lower.Read(b.layer.socket, p)
	if errors.Is(err, transport.ErrWouldBlock) {
		return n, ErrWantRead
	}

	return n, err
}
