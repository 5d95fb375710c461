// Package device wires the transport stack of the ticker together and runs its tasks.
//
// A Device owns every layer of the stack explicitly and runs two tasks:
//
//   - stack_poll drives the interface at a fixed period and follows the carrier;
//   - price_update fetches prices through the TLS layer and schedules itself.
//
// An optional HTTP endpoint serves metrics and health checks.
package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dice-ticker/dice-net/hostif"
	"github.com/dice-ticker/dice-net/internal/task"
	"github.com/dice-ticker/dice-net/logger"
	"github.com/dice-ticker/dice-net/netstack"
	"github.com/dice-ticker/dice-net/tlslayer"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	taskStackPoll   = "stack_poll"
	taskPriceUpdate = "price_update"

	// openDayRetryDelay is the first delay after a failed opening price update.
	openDayRetryDelay = time.Second

	maxGoroutines   = 1000
	shutdownTimeout = 5 * time.Second
)

// Device is the explicitly owned context of the ticker.
type Device struct {
	cfg     Config
	logger  logger.Logger
	iface   *hostif.Interface
	stack   *netstack.NetworkStack
	tls     *tlslayer.Layer
	link    *netstack.LinkStatusMgr
	client  *PriceClient
	book    *PriceBook
	metrics *DeviceMetrics

	registry *prometheus.Registry
	health   healthcheck.Handler

	// owned by the stack poll task
	resetPending bool

	// owned by the price update task
	priceBackoff   *backoff.ExponentialBackOff
	openDayBackoff *backoff.ExponentialBackOff
	nextOpenDay    time.Time
}

// New builds a Device from cfg. A failure to initialize the TLS layer wraps
// tlslayer.ErrEntropyUnavailable or tlslayer.ErrEngineInit and is fatal.
func New(cfg Config, opts ...Option) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}

	d := &Device{
		cfg:            cfg,
		logger:         o.logger.With("component", "device"),
		book:           NewPriceBook(cfg.Prices.Symbols),
		metrics:        &DeviceMetrics{},
		priceBackoff:   newBackOff(cfg.Prices.Interval, cfg.Prices.MaxBackoff),
		openDayBackoff: newBackOff(openDayRetryDelay, cfg.Prices.MaxBackoff),
	}

	ifaceOpts := append([]hostif.Option{hostif.WithLogger(o.logger)}, o.ifaceOpts...)
	if d.iface, err = hostif.New(ifaceOpts...); err != nil {
		return nil, fmt.Errorf("create interface: %w", err)
	}

	sockets, err := d.iface.NewSockets(cfg.Sockets, cfg.SocketBufferSize, cfg.SocketBufferSize)
	if err != nil {
		return nil, fmt.Errorf("create sockets: %w", err)
	}

	lease, err := cfg.staticLease()
	if err != nil {
		return nil, fmt.Errorf("invalid lease: %w", err)
	}
	dhcp := hostif.NewHostLease(cfg.Lease.Delay)
	if lease != nil {
		dhcp = hostif.NewStaticLease(*lease, cfg.Lease.Delay)
	}

	d.stack, err = netstack.New(d.iface, sockets,
		netstack.WithLogger(o.logger),
		netstack.WithDHCP(dhcp),
		netstack.WithHalfOpenLimit(cfg.HalfOpenLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("create network stack: %w", err)
	}

	if d.tls, err = newTLSLayer(cfg, d.stack, o.logger); err != nil {
		return nil, err
	}
	if err := d.tls.Init(o.entropy); err != nil {
		return nil, fmt.Errorf("initialize tls layer: %w", err)
	}

	var seed [8]byte
	if _, err := io.ReadFull(o.entropy, seed[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", tlslayer.ErrEntropyUnavailable, err)
	}
	d.stack.SeedRandomPort(binary.LittleEndian.Uint64(seed[:]))

	d.link = netstack.NewLinkStatusMgr(o.logger, d.onLinkStatusChange)

	remote, err := cfg.endpoint()
	if err != nil {
		return nil, err
	}
	d.client = NewPriceClient(d.tls, remote, cfg.Prices.Host, o.logger)

	if err := d.initObservability(); err != nil {
		return nil, err
	}

	return d, nil
}

func newTLSLayer(cfg Config, lower *netstack.NetworkStack, l logger.Logger) (*tlslayer.Layer, error) {
	opts := []tlslayer.Option{
		tlslayer.WithLogger(l),
		tlslayer.WithServerName(cfg.TLS.ServerName),
		tlslayer.WithRetryBudget(cfg.TLS.RetryBudget),
		tlslayer.WithRetryDelay(cfg.TLS.RetryDelay),
	}

	pool, err := cfg.rootCAs()
	if err != nil {
		return nil, err
	}
	if pool != nil {
		opts = append(opts, tlslayer.WithRootCAs(pool))
	}

	layer, err := tlslayer.New(lower, opts...)
	if err != nil {
		return nil, fmt.Errorf("create tls layer: %w", err)
	}

	return layer, nil
}

func newBackOff(initial time.Duration, maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

func (d *Device) initObservability() error {
	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(collectors.NewGoCollector())
	for _, c := range d.collectors() {
		if err := d.registry.Register(c); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	d.health = healthcheck.NewHandler()
	d.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	d.health.AddReadinessCheck("link-configured", func() error {
		if status := d.link.Status(); !status.IsConfigured() {
			return fmt.Errorf("link is %s", status)
		}
		return nil
	})
	d.health.AddReadinessCheck("tls-initialized", func() error {
		if d.tls.State() == tlslayer.StateBeforeInit {
			return errors.New("tls layer not initialized")
		}
		return nil
	})

	return nil
}

// Book returns the price book.
func (d *Device) Book() *PriceBook { return d.book }

// Stack returns the socket multiplexer.
func (d *Device) Stack() *netstack.NetworkStack { return d.stack }

// Interface returns the host interface.
func (d *Device) Interface() *hostif.Interface { return d.iface }

// TLS returns the TLS layer.
func (d *Device) TLS() *tlslayer.Layer { return d.tls }

// Link returns the link status manager.
func (d *Device) Link() *netstack.LinkStatusMgr { return d.link }

// Metrics returns the metrics of the device tasks.
func (d *Device) Metrics() *DeviceMetrics { return d.metrics }

// Handler returns the HTTP handler serving /metrics, /live and /ready.
func (d *Device) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/live", d.health.LiveEndpoint)
	mux.HandleFunc("/ready", d.health.ReadyEndpoint)

	return mux
}

// Run starts the tasks of the device and blocks until ctx is done.
func (d *Device) Run(ctx context.Context) error {
	var srv *http.Server
	if d.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", d.cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("listen on metrics address: %w", err)
		}

		srv = &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.logger.Error("metrics server failed", "error", err)
			}
		}()
		d.logger.Info("serving metrics", "addr", ln.Addr().String())
	}

	tasks := task.NewManager(ctx, d.logger)
	if _, err := tasks.StartInterval(taskStackPoll, d.pollStack, d.cfg.PollInterval, true); err != nil {
		return err
	}
	if err := tasks.StartScheduled(taskPriceUpdate, d.updatePrices, 0); err != nil {
		tasks.Stop()
		tasks.Wait()

		return err
	}

	d.logger.Info("device started", "symbols", d.cfg.Prices.Symbols, "endpoint", d.cfg.Prices.Endpoint)
	<-ctx.Done()

	tasks.Stop()
	tasks.Wait()

	if err := d.tls.Close(tlslayer.SessionHandle); err != nil {
		d.logger.Debug("tls close failed", "error", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("metrics server shutdown failed", "error", err)
		}
	}

	d.logger.Info("device stopped")

	return nil
}

// pollStack is the stack poll task. It follows the carrier: with carrier the interface is
// polled, without it the TLS session and the stack are reset once, retried on the next
// cycle while either is busy.
func (d *Device) pollStack() bool {
	if !d.iface.LinkUp() {
		if d.link.Status().IsDisconnected() && !d.resetPending {
			return true
		}
		if !d.link.Status().IsDisconnected() {
			_ = d.link.ToDisconnected()
		}

		tlsErr := d.tls.HandleDisconnected()
		stackErr := d.stack.HandleLinkReset()
		d.resetPending = tlsErr != nil || stackErr != nil
		if d.resetPending {
			d.metrics.incLinkResetRetryCount()
		}

		return true
	}

	if d.link.Status().IsDisconnected() {
		_ = d.link.ToUnconfigured()
	}

	if _, err := d.stack.Poll(time.Now()); err != nil {
		d.metrics.incPollErrCount()
		d.logger.Debug("stack poll failed", "error", err)
	}

	if d.link.Status().IsUnconfigured() && !d.stack.IsIPUnspecified() {
		_ = d.link.ToConfigured()
	}

	return true
}

func (d *Device) onLinkStatusChange(prev netstack.LinkStatus, cur netstack.LinkStatus) {
	if cur.IsConfigured() {
		d.logger.Info("network configured", "addr", d.stack.IPv4Addr(), "dns_servers", d.stack.DNSServers())
	}
}

// updatePrices is the price update task. It returns the delay until its next run.
func (d *Device) updatePrices() time.Duration {
	if d.stack.IsIPUnspecified() {
		return d.cfg.Prices.Interval
	}

	now := time.Now()
	if !now.Before(d.nextOpenDay) {
		d.updateOpenDay(now)
	}

	prices, err := d.client.CurrentPrices(d.book.Symbols(), d.cfg.Prices.Currency)
	if err != nil {
		d.metrics.incPriceFetchErrCount()
		next := d.priceBackoff.NextBackOff()
		d.logger.Warn("price update failed", "error", err, "retry_in", next)

		return next
	}
	d.priceBackoff.Reset()

	n := d.book.UpdatePrices(prices, time.Now())
	d.metrics.incPriceFetchCount()
	d.logger.Debug("prices updated", "quotes", n)

	return d.cfg.Prices.Interval
}

func (d *Device) updateOpenDay(now time.Time) {
	prices, err := d.client.OpenDayPrices(d.book.Symbols(), d.cfg.Prices.Currency)
	if err != nil {
		d.metrics.incOpenDayFetchErrCount()
		next := d.openDayBackoff.NextBackOff()
		d.nextOpenDay = now.Add(next)
		d.logger.Warn("open day price update failed", "error", err, "retry_in", next)

		return
	}
	d.openDayBackoff.Reset()

	n := d.book.UpdateOpenDay(prices)
	d.metrics.incOpenDayFetchCount()
	d.nextOpenDay = now.Add(d.cfg.Prices.OpenDayInterval)
	d.logger.Debug("open day prices updated", "quotes", n)
}
