package tlslayer

import (
	"sync/atomic"
)

// SessionMetrics contains atomic metrics of a Layer.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type SessionMetrics struct {
	// SessionCount indicates the number of sessions connected.
	SessionCount atomic.Uint64
	// SessionResetCount indicates the number of sessions torn down by failures,
	// retry exhaustion or peer close.
	SessionResetCount atomic.Uint64
	// PeerCloseCount indicates the number of sessions closed by the peer.
	PeerCloseCount atomic.Uint64
	// TimeoutCount indicates the number of operations that exhausted the retry budget.
	TimeoutCount atomic.Uint64

	// WriteRetryCount indicates the number of engine write retries.
	WriteRetryCount atomic.Uint64
	// ReadRetryCount indicates the number of engine read retries.
	ReadRetryCount atomic.Uint64

	// BytesWritten indicates the number of plaintext bytes written.
	BytesWritten atomic.Uint64
	// BytesRead indicates the number of plaintext bytes read.
	BytesRead atomic.Uint64
}

func (m *SessionMetrics) incSessionCount() {
	m.SessionCount.Add(1)
}

func (m *SessionMetrics) incSessionResetCount() {
	m.SessionResetCount.Add(1)
}

func (m *SessionMetrics) incPeerCloseCount() {
	m.PeerCloseCount.Add(1)
}

func (m *SessionMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *SessionMetrics) incWriteRetryCount() {
	m.WriteRetryCount.Add(1)
}

func (m *SessionMetrics) incReadRetryCount() {
	m.ReadRetryCount.Add(1)
}

func (m *SessionMetrics) addBytesWritten(n int) {
	m.BytesWritten.Add(uint64(n))
}

func (m *SessionMetrics) addBytesRead(n int) {
	m.BytesRead.Add(uint64(n))
}
