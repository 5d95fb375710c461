package hostif

import (
	"sync/atomic"
)

// InterfaceMetrics contains atomic metrics of an Interface.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type InterfaceMetrics struct {
	// PollCount indicates the number of poll cycles.
	PollCount atomic.Uint64
	// DialCount indicates the number of connection attempts.
	DialCount atomic.Uint64
	// DialErrCount indicates the number of failed connection attempts.
	DialErrCount atomic.Uint64
	// ResetCount indicates the number of connections dropped by an error or an abort.
	ResetCount atomic.Uint64
	// BytesIn indicates the number of bytes moved into receive buffers.
	BytesIn atomic.Uint64
	// BytesOut indicates the number of bytes handed to connections.
	BytesOut atomic.Uint64
}

func (m *InterfaceMetrics) incPollCount() {
	m.PollCount.Add(1)
}

func (m *InterfaceMetrics) incDialCount() {
	m.DialCount.Add(1)
}

func (m *InterfaceMetrics) incDialErrCount() {
	m.DialErrCount.Add(1)
}

func (m *InterfaceMetrics) incResetCount() {
	m.ResetCount.Add(1)
}

func (m *InterfaceMetrics) addBytesIn(n int) {
	m.BytesIn.Add(uint64(n))
}

func (m *InterfaceMetrics) addBytesOut(n int) {
	m.BytesOut.Add(uint64(n))
}
