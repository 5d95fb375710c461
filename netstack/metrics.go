package netstack

import (
	"sync/atomic"
)

// StackMetrics contains atomic metrics of a NetworkStack.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type StackMetrics struct {
	// OpenCount indicates the number of handles handed out.
	OpenCount atomic.Uint64
	// CloseCount indicates the number of handles returned to the pool.
	CloseCount atomic.Uint64
	// ConnectCount indicates the number of connections started.
	ConnectCount atomic.Uint64
	// ConnectErrCount indicates the number of connections that failed to start.
	ConnectErrCount atomic.Uint64
	// PortCollisionCount indicates the number of drawn ports that were already bound.
	PortCollisionCount atomic.Uint64

	// BytesSent indicates the number of bytes queued for transmission.
	BytesSent atomic.Uint64
	// BytesRecv indicates the number of bytes handed to consumers.
	BytesRecv atomic.Uint64
	// WouldBlockCount indicates the number of reads and writes that could not progress.
	WouldBlockCount atomic.Uint64

	// PollCount indicates the number of completed poll cycles.
	PollCount atomic.Uint64
	// PollSkipCount indicates the number of poll cycles skipped on lock contention.
	PollSkipCount atomic.Uint64
	// LeaseCount indicates the number of DHCP leases applied.
	LeaseCount atomic.Uint64
	// AbortCount indicates the number of sockets force-aborted.
	AbortCount atomic.Uint64
	// HalfOpenReapCount indicates the number of sockets aborted for staying half-open.
	HalfOpenReapCount atomic.Uint64
	// LinkResetCount indicates the number of completed link resets.
	LinkResetCount atomic.Uint64

	// SocketsInUse indicates the number of handles currently handed out.
	SocketsInUse atomic.Int64
}

func (m *StackMetrics) incOpenCount() {
	m.OpenCount.Add(1)
	m.SocketsInUse.Add(1)
}

func (m *StackMetrics) incCloseCount() {
	m.CloseCount.Add(1)
	m.SocketsInUse.Add(-1)
}

func (m *StackMetrics) incConnectCount() {
	m.ConnectCount.Add(1)
}

func (m *StackMetrics) incConnectErrCount() {
	m.ConnectErrCount.Add(1)
}

func (m *StackMetrics) incPortCollisionCount() {
	m.PortCollisionCount.Add(1)
}

func (m *StackMetrics) addBytesSent(n int) {
	m.BytesSent.Add(uint64(n))
}

func (m *StackMetrics) addBytesRecv(n int) {
	m.BytesRecv.Add(uint64(n))
}

func (m *StackMetrics) incWouldBlockCount() {
	m.WouldBlockCount.Add(1)
}

func (m *StackMetrics) incPollCount() {
	m.PollCount.Add(1)
}

func (m *StackMetrics) incPollSkipCount() {
	m.PollSkipCount.Add(1)
}

func (m *StackMetrics) incLeaseCount() {
	m.LeaseCount.Add(1)
}

func (m *StackMetrics) addAbortCount(n int) {
	m.AbortCount.Add(uint64(n))
}

func (m *StackMetrics) incHalfOpenReapCount() {
	m.HalfOpenReapCount.Add(1)
}

func (m *StackMetrics) incLinkResetCount() {
	m.LinkResetCount.Add(1)
}
