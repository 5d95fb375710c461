package hostif

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"runtime"
	"sync"
	"time"

	"github.com/dice-ticker/dice-net/internal/slab"
	"github.com/dice-ticker/dice-net/netif"
)

// Socket is a netif.TCPSocket of an Interface.
//
// A Socket is not safe for concurrent use. Its methods and Interface.Poll must be
// serialized by the caller, which the multiplexer does with its pool lock.
type Socket struct {
	iface     *Interface
	state     netif.SocketState
	rx        *ring
	tx        *ring
	remote    netip.AddrPort
	localPort uint16
	closing   bool // local half closed, FIN pending
	dialReq   bool
	worker    *connWorker
}

var _ netif.TCPSocket = (*Socket)(nil)

func (s *Socket) State() netif.SocketState { return s.state }

func (s *Socket) IsOpen() bool { return s.state != netif.SocketClosed }

// IsActive reports whether the socket is not closed. Sockets never listen.
func (s *Socket) IsActive() bool { return s.state != netif.SocketClosed }

func (s *Socket) MaySend() bool {
	return (s.state == netif.SocketEstablished || s.state == netif.SocketCloseWait) && !s.closing
}

func (s *Socket) MayRecv() bool {
	return s.state == netif.SocketEstablished || s.state == netif.SocketFinWait
}

func (s *Socket) CanSend() bool { return s.MaySend() && s.tx.Free() > 0 }

func (s *Socket) CanRecv() bool { return s.rx.Len() > 0 }

func (s *Socket) LocalPort() uint16 { return s.localPort }

// Connect requests an active open. The connection attempt starts on the next poll.
func (s *Socket) Connect(remote netip.AddrPort, localPort uint16) error {
	if s.state != netif.SocketClosed {
		return ErrSocketInUse
	}
	if !remote.IsValid() || remote.Port() == 0 || localPort == 0 {
		return ErrInvalidEndpoint
	}

	s.remote = remote
	s.localPort = localPort
	s.state = netif.SocketSynSent
	s.dialReq = true

	return nil
}

func (s *Socket) Send(p []byte) (int, error) {
	if !s.MaySend() {
		return 0, net.ErrClosed
	}

	return s.tx.Write(p), nil
}

func (s *Socket) Recv(p []byte) (int, error) {
	if s.state == netif.SocketClosed {
		return 0, net.ErrClosed
	}

	return s.rx.Read(p), nil
}

// Close shuts the local half down once the transmit buffer was flushed.
func (s *Socket) Close() {
	switch s.state {
	case netif.SocketSynSent:
		s.reset()
	case netif.SocketEstablished:
		s.state = netif.SocketFinWait
		s.closing = true
	case netif.SocketCloseWait:
		s.closing = true
	}
}

// Abort drops the connection immediately.
func (s *Socket) Abort() {
	if s.worker != nil {
		s.iface.metrics.incResetCount()
	}
	s.reset()
}

func (s *Socket) reset() {
	if w := s.worker; w != nil {
		s.worker = nil
		w.stop()
	}

	s.state = netif.SocketClosed
	s.rx.Reset()
	s.tx.Reset()
	s.remote = netip.AddrPort{}
	s.localPort = 0
	s.closing = false
	s.dialReq = false
}

func (s *Socket) poll(_ time.Time) bool {
	if s.dialReq {
		s.dialReq = false
		if err := s.startDial(); err != nil {
			s.iface.logger.Warn("cannot start connection", "remote", s.remote, "error", err)
			s.iface.metrics.incDialErrCount()
			s.reset()

			return true
		}

		return false
	}

	w := s.worker
	if w == nil {
		return false
	}

	if s.state == netif.SocketSynSent {
		select {
		case res := <-w.dialCh:
			if res.err != nil {
				s.iface.logger.Debug("connection failed", "remote", s.remote, "error", res.err)
				s.iface.metrics.incDialErrCount()
				s.reset()

				return true
			}
			w.startIO(res.conn)
			s.state = netif.SocketEstablished

			return true
		default:
			return false
		}
	}

	changed := s.pollRecv(w)
	if s.worker == nil {
		return true
	}

	return s.pollSend(w) || changed
}

func (s *Socket) startDial() error {
	rxRef, err := s.iface.arena.Alloc()
	if err != nil {
		return err
	}
	txRef, err := s.iface.arena.Alloc()
	if err != nil {
		_ = s.iface.arena.Free(rxRef)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &connWorker{
		arena:     s.iface.arena,
		ctx:       ctx,
		cancel:    cancel,
		dialCh:    make(chan dialResult),
		readCh:    make(chan readResult),
		readAck:   make(chan struct{}, 1),
		writeCh:   make(chan int, 1),
		writeDone: make(chan error),
		rxRef:     rxRef,
		txRef:     txRef,
		rxChunk:   s.iface.arena.Bytes(rxRef),
		txChunk:   s.iface.arena.Bytes(txRef),
	}
	s.worker = w
	s.iface.metrics.incDialCount()

	remote, localPort, iface := s.remote, s.localPort, s.iface
	w.run(func() {
		conn, err := iface.dialAddr(ctx, remote, localPort)
		select {
		case w.dialCh <- dialResult{conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				_ = conn.Close()
			}
		}
	})

	return nil
}

func (s *Socket) pollRecv(w *connWorker) bool {
	changed := false

	if len(w.pendingRx) == 0 && !w.readDone {
		select {
		case res := <-w.readCh:
			w.pendingRx = w.rxChunk[:res.n]
			if res.err != nil {
				w.readDone = true
				w.readErr = res.err
			}
		default:
		}
	}

	if len(w.pendingRx) > 0 {
		n := s.rx.Write(w.pendingRx)
		w.pendingRx = w.pendingRx[n:]
		if n > 0 {
			s.iface.metrics.addBytesIn(n)
			changed = true
		}
		if len(w.pendingRx) == 0 && !w.readDone {
			w.readAck <- struct{}{}
		}
	}

	if w.readDone && len(w.pendingRx) == 0 && !w.eofSeen {
		w.eofSeen = true
		s.peerClosed(w.readErr)
		changed = true
	}

	return changed
}

func (s *Socket) peerClosed(err error) {
	if !errors.Is(err, io.EOF) {
		s.iface.logger.Debug("connection reset", "remote", s.remote, "error", err)
		s.iface.metrics.incResetCount()
		s.reset()

		return
	}

	switch s.state {
	case netif.SocketEstablished:
		s.state = netif.SocketCloseWait
	case netif.SocketFinWait:
		s.reset()
	}
}

func (s *Socket) pollSend(w *connWorker) bool {
	if w.writing {
		select {
		case err := <-w.writeDone:
			w.writing = false
			if err != nil {
				s.iface.logger.Debug("connection write failed", "remote", s.remote, "error", err)
				s.iface.metrics.incResetCount()
				s.reset()

				return true
			}
		default:
			return false
		}
	}

	if s.tx.Len() > 0 {
		n := s.tx.Read(w.txChunk)
		w.writing = true
		w.writeCh <- n
		s.iface.metrics.addBytesOut(n)

		return true
	}

	if s.closing && !w.finSent {
		w.finSent = true
		w.closeWrite()
		if s.state == netif.SocketCloseWait {
			s.reset()
		}

		return true
	}

	return false
}

type dialResult struct {
	conn net.Conn
	err  error
}

type readResult struct {
	n   int
	err error
}

// connWorker owns the goroutines and scratch blocks of one connection.
type connWorker struct {
	arena  *slab.Slab
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	conn   net.Conn

	dialCh    chan dialResult
	readCh    chan readResult
	readAck   chan struct{}
	writeCh   chan int
	writeDone chan error

	rxRef, txRef     slab.Ref
	rxChunk, txChunk []byte

	// owned by the polling side
	pendingRx []byte
	readDone  bool
	readErr   error
	eofSeen   bool
	writing   bool
	finSent   bool
}

func (w *connWorker) run(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

func (w *connWorker) startIO(conn net.Conn) {
	w.conn = conn
	w.run(w.readLoop)
	w.run(w.writeLoop)
}

func (w *connWorker) readLoop() {
	for {
		n, err := w.conn.Read(w.rxChunk)
		if n == 0 && err == nil {
			// nothing to hand over, the polling side would never ack it
			if w.ctx.Err() != nil {
				return
			}
			runtime.Gosched()

			continue
		}

		select {
		case w.readCh <- readResult{n: n, err: err}:
		case <-w.ctx.Done():
			return
		}
		if err != nil {
			return
		}

		select {
		case <-w.readAck:
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *connWorker) writeLoop() {
	for {
		select {
		case n := <-w.writeCh:
			_, err := w.conn.Write(w.txChunk[:n])
			select {
			case w.writeDone <- err:
			case <-w.ctx.Done():
				return
			}
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *connWorker) closeWrite() {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := w.conn.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
}

// stop cancels the workers. The scratch blocks return to the arena once every worker
// has exited.
func (w *connWorker) stop() {
	w.cancel()
	if w.conn != nil {
		_ = w.conn.Close()
	}

	go func() {
		w.wg.Wait()
		_ = w.arena.Free(w.rxRef)
		_ = w.arena.Free(w.txRef)
	}()
}
