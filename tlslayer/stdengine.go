package tlslayer

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	bioChunkSize      = 2048
	maxPlainBuffered  = 16 * 1024
	maxCipherBuffered = 32 * 1024
)

// stdEngine is an Engine built on a crypto/tls client.
//
// The client runs in goroutines over an in-memory ciphertext pipe. Every Write and Read
// pumps the pipe through the BIO on the caller's goroutine, so the BIO is never used
// concurrently and never outside of an engine call.
type stdEngine struct {
	bio    BIO
	tlsCfg *tls.Config
	sess   *stdSession
}

var _ Engine = (*stdEngine)(nil)

// NewStdEngine is the default EngineFactory. rand must be safe for concurrent use.
func NewStdEngine(bio BIO, rand io.Reader, cfg EngineConfig) (Engine, error) {
	if bio == nil {
		return nil, errors.New("bio is nil")
	}
	if !cfg.InsecureSkipVerify && cfg.ServerName == "" {
		return nil, errors.New("server name is required when verification is enabled")
	}

	return &stdEngine{
		bio: bio,
		tlsCfg: &tls.Config{
			ServerName:         cfg.ServerName,
			RootCAs:            cfg.RootCAs,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in through EngineConfig
			Rand:               rand,
			MinVersion:         tls.VersionTLS12,
		},
	}, nil
}

func (e *stdEngine) session() *stdSession {
	if e.sess == nil {
		e.sess = newStdSession(e.tlsCfg.Clone())
	}

	return e.sess
}

func (e *stdEngine) Write(p []byte) (int, error) {
	s := e.session()

	if s.write == nil {
		op := &writeOp{done: make(chan struct{})}
		buf := bytes.Clone(p)
		s.write = op
		go func() {
			defer close(op.done)
			op.n, op.err = s.conn.Write(buf)
			if op.err == nil {
				s.handshook.Store(true)
			}
		}()
	}

	if err := s.pump(e.bio); err != nil {
		return 0, err
	}

	op := s.write
	select {
	case <-op.done:
	default:
		return 0, ErrInProgress
	}

	if op.err != nil {
		s.write = nil
		return 0, op.err
	}
	// done only once every record left through the BIO
	if s.pipe.pendingOut() > 0 {
		return 0, ErrWantWrite
	}
	s.write = nil

	return op.n, nil
}

func (e *stdEngine) Read(p []byte) (int, error) {
	s := e.session()
	s.startReader()

	if err := s.pump(e.bio); err != nil {
		return 0, err
	}

	n, err := s.readPlain(p)
	if n > 0 {
		return n, nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}

		return 0, err
	}

	return 0, ErrWantRead
}

func (e *stdEngine) CloseNotify() error {
	s := e.sess
	if s == nil {
		return nil
	}
	if !s.handshook.Load() || s.write != nil {
		return ErrInProgress
	}

	err := s.conn.CloseWrite()
	if perr := s.pump(e.bio); err == nil {
		err = perr
	}

	return err
}

func (e *stdEngine) Reset() error {
	if e.sess != nil {
		e.sess.close()
		e.sess = nil
	}

	return nil
}

type writeOp struct {
	done chan struct{}
	n    int
	err  error
}

// stdSession is one TLS session and the goroutines serving it.
type stdSession struct {
	conn      *tls.Conn
	pipe      *cipherPipe
	handshook atomic.Bool

	// owned by the engine caller
	write   *writeOp
	recvEOF bool
	sendBuf []byte
	recvBuf []byte

	mu            sync.Mutex
	cond          *sync.Cond
	plain         bytes.Buffer
	readErr       error
	readerRunning bool
	closed        bool
}

func newStdSession(cfg *tls.Config) *stdSession {
	pipe := newCipherPipe()
	s := &stdSession{
		conn:    tls.Client(pipe, cfg),
		pipe:    pipe,
		sendBuf: make([]byte, bioChunkSize),
		recvBuf: make([]byte, bioChunkSize),
	}
	s.cond = sync.NewCond(&s.mu)

	return s
}

// pump moves pending ciphertext to the BIO and at most one chunk of received ciphertext
// from the BIO into the pipe.
func (s *stdSession) pump(bio BIO) error {
	for {
		chunk := s.pipe.peekOut(s.sendBuf)
		if len(chunk) == 0 {
			break
		}

		n, err := bio.Send(chunk)
		if n > 0 {
			s.pipe.consumeOut(n)
		}
		if err != nil {
			if errors.Is(err, ErrWantWrite) {
				break
			}

			return err
		}
		if n < len(chunk) {
			break
		}
	}

	if s.recvEOF || s.pipe.pendingIn() >= maxCipherBuffered {
		return nil
	}

	n, err := bio.Recv(s.recvBuf)
	switch {
	case errors.Is(err, ErrWantRead):
	case err != nil:
		return err
	case n == 0:
		s.recvEOF = true
		s.pipe.closeIn()
	default:
		s.pipe.pushIn(s.recvBuf[:n])
	}

	return nil
}

func (s *stdSession) startReader() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readerRunning || s.closed {
		return
	}
	s.readerRunning = true

	go s.readLoop()
}

func (s *stdSession) readLoop() {
	buf := make([]byte, maxPlainBuffered)
	for {
		s.mu.Lock()
		for s.plain.Len() >= maxPlainBuffered && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		room := maxPlainBuffered - s.plain.Len()
		s.mu.Unlock()

		n, err := s.conn.Read(buf[:room])

		s.mu.Lock()
		if n > 0 {
			s.handshook.Store(true)
			s.plain.Write(buf[:n])
		}
		if err != nil {
			s.readErr = err
			s.mu.Unlock()

			return
		}
		s.mu.Unlock()
	}
}

func (s *stdSession) readPlain(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plain.Len() > 0 {
		n, _ := s.plain.Read(p)
		s.cond.Broadcast()

		return n, nil
	}

	return 0, s.readErr
}

func (s *stdSession) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.pipe.Close()
}

// cipherPipe is the net.Conn the TLS client runs over. Reads block until ciphertext was
// pushed by the pump; writes block while too much ciphertext is waiting to be sent.
type cipherPipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	in     bytes.Buffer
	out    bytes.Buffer
	inEOF  bool
	closed bool
}

var _ net.Conn = (*cipherPipe)(nil)

func newCipherPipe() *cipherPipe {
	p := &cipherPipe{}
	p.cond = sync.NewCond(&p.mu)

	return p
}

func (p *cipherPipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.in.Len() == 0 && !p.inEOF && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return 0, net.ErrClosed
	}
	if p.in.Len() == 0 {
		return 0, io.EOF
	}

	return p.in.Read(b)
}

func (p *cipherPipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.out.Len() >= maxCipherBuffered && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return 0, net.ErrClosed
	}

	return p.out.Write(b)
}

func (p *cipherPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.cond.Broadcast()

	return nil
}

// peekOut copies pending outbound ciphertext into buf without consuming it.
func (p *cipherPipe) peekOut(buf []byte) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := copy(buf, p.out.Bytes())
	return buf[:n]
}

func (p *cipherPipe) consumeOut(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.out.Next(n)
	p.cond.Broadcast()
}

func (p *cipherPipe) pendingOut() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.out.Len()
}

func (p *cipherPipe) pushIn(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.in.Write(b)
	p.cond.Broadcast()
}

func (p *cipherPipe) pendingIn() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.in.Len()
}

func (p *cipherPipe) closeIn() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inEOF = true
	p.cond.Broadcast()
}

func (p *cipherPipe) LocalAddr() net.Addr  { return pipeAddr{} }
func (p *cipherPipe) RemoteAddr() net.Addr { return pipeAddr{} }

func (p *cipherPipe) SetDeadline(time.Time) error      { return nil }
func (p *cipherPipe) SetReadDeadline(time.Time) error  { return nil }
func (p *cipherPipe) SetWriteDeadline(time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "tlslayer" }
