package device

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// DeviceMetrics contains atomic metrics of the device tasks.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type DeviceMetrics struct {
	// PriceFetchCount indicates the number of successful price updates.
	PriceFetchCount atomic.Uint64
	// PriceFetchErrCount indicates the number of failed price updates.
	PriceFetchErrCount atomic.Uint64
	// OpenDayFetchCount indicates the number of successful opening price updates.
	OpenDayFetchCount atomic.Uint64
	// OpenDayFetchErrCount indicates the number of failed opening price updates.
	OpenDayFetchErrCount atomic.Uint64
	// PollErrCount indicates the number of stack poll cycles that reported an error.
	PollErrCount atomic.Uint64
	// LinkResetRetryCount indicates the number of link resets deferred by a busy stack.
	LinkResetRetryCount atomic.Uint64
}

func (m *DeviceMetrics) incPriceFetchCount()      { m.PriceFetchCount.Add(1) }
func (m *DeviceMetrics) incPriceFetchErrCount()   { m.PriceFetchErrCount.Add(1) }
func (m *DeviceMetrics) incOpenDayFetchCount()    { m.OpenDayFetchCount.Add(1) }
func (m *DeviceMetrics) incOpenDayFetchErrCount() { m.OpenDayFetchErrCount.Add(1) }
func (m *DeviceMetrics) incPollErrCount()         { m.PollErrCount.Add(1) }
func (m *DeviceMetrics) incLinkResetRetryCount()  { m.LinkResetRetryCount.Add(1) }

const metricsNamespace = "dice"

func counterFunc(subsystem string, name string, help string, v *atomic.Uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(v.Load()) })
}

func gaugeFunc(subsystem string, name string, help string, f func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, f)
}

// collectors returns the prometheus collectors over the metrics of every layer.
func (d *Device) collectors() []prometheus.Collector {
	sm := d.stack.Metrics()
	tm := d.tls.Metrics()
	im := d.iface.Metrics()
	dm := d.metrics

	return []prometheus.Collector{
		counterFunc("netstack", "sockets_opened_total", "Number of socket handles opened.", &sm.OpenCount),
		counterFunc("netstack", "sockets_closed_total", "Number of socket handles closed.", &sm.CloseCount),
		counterFunc("netstack", "connects_total", "Number of connections started.", &sm.ConnectCount),
		counterFunc("netstack", "connect_errors_total", "Number of failed connection starts.", &sm.ConnectErrCount),
		counterFunc("netstack", "port_collisions_total", "Number of ephemeral port draws rejected as bound.", &sm.PortCollisionCount),
		counterFunc("netstack", "sent_bytes_total", "Number of bytes queued for transmission.", &sm.BytesSent),
		counterFunc("netstack", "received_bytes_total", "Number of bytes received.", &sm.BytesRecv),
		counterFunc("netstack", "would_block_total", "Number of reads and writes that would block.", &sm.WouldBlockCount),
		counterFunc("netstack", "polls_total", "Number of interface poll cycles.", &sm.PollCount),
		counterFunc("netstack", "poll_skips_total", "Number of poll cycles skipped on contention.", &sm.PollSkipCount),
		counterFunc("netstack", "leases_total", "Number of DHCP leases processed.", &sm.LeaseCount),
		counterFunc("netstack", "aborts_total", "Number of sockets force-aborted.", &sm.AbortCount),
		counterFunc("netstack", "half_open_reaps_total", "Number of half-open sockets reaped.", &sm.HalfOpenReapCount),
		counterFunc("netstack", "link_resets_total", "Number of link resets.", &sm.LinkResetCount),
		gaugeFunc("netstack", "sockets_in_use", "Number of socket handles in use.", func() float64 {
			return float64(sm.SocketsInUse.Load())
		}),

		counterFunc("tls", "sessions_total", "Number of TLS sessions connected.", &tm.SessionCount),
		counterFunc("tls", "session_resets_total", "Number of TLS sessions torn down.", &tm.SessionResetCount),
		counterFunc("tls", "peer_closes_total", "Number of TLS sessions closed by the peer.", &tm.PeerCloseCount),
		counterFunc("tls", "timeouts_total", "Number of TLS operations exceeding the retry budget.", &tm.TimeoutCount),
		counterFunc("tls", "write_retries_total", "Number of TLS engine write retries.", &tm.WriteRetryCount),
		counterFunc("tls", "read_retries_total", "Number of TLS engine read retries.", &tm.ReadRetryCount),
		counterFunc("tls", "written_bytes_total", "Number of plaintext bytes written.", &tm.BytesWritten),
		counterFunc("tls", "read_bytes_total", "Number of plaintext bytes read.", &tm.BytesRead),
		gaugeFunc("tls", "connected", "Whether a TLS session is established.", func() float64 {
			if connected, _ := d.tls.IsConnected(0); connected {
				return 1
			}
			return 0
		}),

		counterFunc("hostif", "dials_total", "Number of host connection attempts.", &im.DialCount),
		counterFunc("hostif", "dial_errors_total", "Number of failed host connection attempts.", &im.DialErrCount),
		counterFunc("hostif", "resets_total", "Number of host connections dropped.", &im.ResetCount),

		counterFunc("device", "price_updates_total", "Number of successful price updates.", &dm.PriceFetchCount),
		counterFunc("device", "price_update_errors_total", "Number of failed price updates.", &dm.PriceFetchErrCount),
		counterFunc("device", "open_day_updates_total", "Number of successful opening price updates.", &dm.OpenDayFetchCount),
		counterFunc("device", "open_day_update_errors_total", "Number of failed opening price updates.", &dm.OpenDayFetchErrCount),
		counterFunc("device", "poll_errors_total", "Number of poll cycles reporting an error.", &dm.PollErrCount),
		gaugeFunc("device", "link_status", "Link status: 0 disconnected, 1 unconfigured, 2 configured.", func() float64 {
			return float64(d.link.Status())
		}),
	}
}
