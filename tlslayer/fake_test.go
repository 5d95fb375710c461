package tlslayer

import (
	"bytes"
	"errors"
	"io"
	"net/netip"
	"sync"

	"github.com/dice-ticker/dice-net/transport"
	"github.com/stretchr/testify/mock"
)

// fakeLower is a scripted lower transport.
type fakeLower struct {
	mu         sync.Mutex
	next       transport.Handle
	open       map[transport.Handle]bool
	closed     []transport.Handle
	openErr    error
	capacity   int // zero is unbounded
	connectErr error
	writeErr   error
	readErr    error
	written    bytes.Buffer
	toRead     []byte
}

func newFakeLower() *fakeLower {
	return &fakeLower{next: 3, open: make(map[transport.Handle]bool)}
}

func (f *fakeLower) Open(transport.Mode) (transport.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.openErr != nil {
		return 0, f.openErr
	}
	if f.capacity > 0 && len(f.open) >= f.capacity {
		return 0, transport.ErrNoAvailableSockets
	}
	h := f.next
	f.next++
	f.open[h] = true

	return h, nil
}

func (f *fakeLower) Connect(h transport.Handle, _ netip.AddrPort) (transport.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connectErr != nil {
		return h, f.connectErr
	}

	return h, nil
}

func (f *fakeLower) IsConnected(h transport.Handle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.open[h], nil
}

func (f *fakeLower) Write(_ transport.Handle, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return 0, f.writeErr
	}

	return f.written.Write(p)
}

func (f *fakeLower) Read(_ transport.Handle, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return 0, f.readErr
	}
	n := copy(p, f.toRead)
	f.toRead = f.toRead[n:]

	return n, nil
}

func (f *fakeLower) Close(h transport.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.open, h)
	f.closed = append(f.closed, h)

	return nil
}

func (f *fakeLower) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.open)
}

// MockEngine is a testify mock of Engine.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Write(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockEngine) Read(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockEngine) CloseNotify() error {
	return m.Called().Error(0)
}

func (m *MockEngine) Reset() error {
	return m.Called().Error(0)
}

func mockEngineFactory(m *MockEngine) EngineFactory {
	return func(BIO, io.Reader, EngineConfig) (Engine, error) {
		return m, nil
	}
}

// countingEngine answers a fixed number of retryable results before succeeding. It is
// used where a testify mock would record too many calls.
type countingEngine struct {
	wants      int // retryable results before success, negative means forever
	result     error
	writeCalls int
	readCalls  int
	resets     int
}

func (e *countingEngine) Write(p []byte) (int, error) {
	e.writeCalls++
	if e.wants < 0 || e.writeCalls <= e.wants {
		return 0, e.result
	}

	return len(p), nil
}

func (e *countingEngine) Read(p []byte) (int, error) {
	e.readCalls++
	if e.wants < 0 || e.readCalls <= e.wants {
		return 0, e.result
	}

	return copy(p, "data"), nil
}

func (e *countingEngine) CloseNotify() error { return nil }

func (e *countingEngine) Reset() error {
	e.resets++
	return nil
}

func countingEngineFactory(e *countingEngine) EngineFactory {
	return func(BIO, io.Reader, EngineConfig) (Engine, error) {
		return e, nil
	}
}

var errEngineFatal = errors.New("bad record mac")

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }
