package device

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/dice-ticker/dice-net/netif"
	"github.com/go-playground/validator/v10"
)

// Config is the configuration of a Device.
type Config struct {
	// Sockets is the size of the socket pool.
	Sockets int `mapstructure:"sockets" validate:"min=1,max=16"`
	// SocketBufferSize is the size of the receive and of the transmit buffer of every socket.
	SocketBufferSize int `mapstructure:"socket_buffer_size" validate:"min=256,max=65536"`
	// PollInterval is the period of the stack poll task.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	// HalfOpenLimit is the number of poll cycles a half-open socket survives. Zero
	// disables reaping.
	HalfOpenLimit int `mapstructure:"half_open_limit" validate:"gte=0"`
	// MetricsAddr is the listen address of the metrics and health endpoints. Empty
	// disables them.
	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	Lease  LeaseConfig `mapstructure:"lease"`
	TLS    TLSConfig   `mapstructure:"tls"`
	Prices PriceConfig `mapstructure:"prices"`
}

// LeaseConfig selects the address configuration of the interface.
type LeaseConfig struct {
	// Address is a static address in CIDR notation. Empty uses the address of the host.
	Address string `mapstructure:"address"`
	// Router is the default gateway of a static lease.
	Router string `mapstructure:"router" validate:"omitempty,ipv4"`
	// DNSServers of a static lease.
	DNSServers []string `mapstructure:"dns_servers" validate:"max=3,dive,ipv4"`
	// Delay before the lease is offered, after start and after every link loss.
	Delay time.Duration `mapstructure:"delay" validate:"gte=0"`
}

// TLSConfig configures the secure transport.
type TLSConfig struct {
	// ServerName is sent as SNI and verified when CAFile is set.
	ServerName string `mapstructure:"server_name" validate:"required,hostname"`
	// CAFile is a PEM bundle of trusted roots. Empty disables peer verification.
	CAFile string `mapstructure:"ca_file" validate:"omitempty,file"`
	// RetryBudget is the number of engine retries of a single read or write.
	RetryBudget int `mapstructure:"retry_budget" validate:"gt=0"`
	// RetryDelay is the pause between two retries.
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gte=0,lte=1s"`
}

// PriceConfig configures the price feed.
type PriceConfig struct {
	// Endpoint is the IPv4 address and port of the price API.
	Endpoint string `mapstructure:"endpoint" validate:"required,hostname_port"`
	// Host is the HTTP Host header.
	Host string `mapstructure:"host" validate:"required,hostname"`
	// Symbols are the tickers shown by the device.
	Symbols []string `mapstructure:"symbols" validate:"min=1,max=64,dive,alphanum,max=16"`
	// Currency is the quote currency.
	Currency string `mapstructure:"currency" validate:"required,alphanum,max=16"`
	// Interval is the period of the price update.
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	// OpenDayInterval is the period of the opening price update.
	OpenDayInterval time.Duration `mapstructure:"open_day_interval" validate:"gt=0"`
	// MaxBackoff bounds the delay between failed updates.
	MaxBackoff time.Duration `mapstructure:"max_backoff" validate:"gtefield=Interval"`
}

// DefaultConfig returns the configuration of the device as shipped.
func DefaultConfig() Config {
	return Config{
		Sockets:          4,
		SocketBufferSize: 4096,
		PollInterval:     time.Millisecond,
		HalfOpenLimit:    10000,
		Lease: LeaseConfig{
			Delay: 500 * time.Millisecond,
		},
		TLS: TLSConfig{
			ServerName:  "min-api.cryptocompare.com",
			RetryBudget: 100000,
			RetryDelay:  100 * time.Microsecond,
		},
		Prices: PriceConfig{
			Endpoint:        "40.115.22.134:443",
			Host:            "min-api.cryptocompare.com",
			Symbols:         []string{"ETH", "BTC", "BNB", "XRP", "MATIC", "DOGE", "ETC", "ADA"},
			Currency:        "USD",
			Interval:        4 * time.Second,
			OpenDayInterval: 24 * time.Hour,
			MaxBackoff:      time.Minute,
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid device config: %w", err)
	}

	if _, err := c.endpoint(); err != nil {
		return err
	}

	if _, err := c.staticLease(); err != nil {
		return fmt.Errorf("invalid lease: %w", err)
	}

	return nil
}

func (c *Config) endpoint() (netip.AddrPort, error) {
	addr, err := netip.ParseAddrPort(c.Prices.Endpoint)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid price endpoint: %w", err)
	}
	if !addr.Addr().Is4() {
		return netip.AddrPort{}, errors.New("invalid price endpoint: not an IPv4 address")
	}

	return addr, nil
}

// staticLease returns the configured static lease, nil when the host address is used.
func (c *Config) staticLease() (*netif.Lease, error) {
	if c.Lease.Address == "" {
		return nil, nil //nolint:nilnil // host lease
	}

	addr, err := netip.ParsePrefix(c.Lease.Address)
	if err != nil {
		return nil, err
	}
	if !addr.Addr().Is4() {
		return nil, errors.New("lease address is not IPv4")
	}
	lease := &netif.Lease{Address: addr}

	if c.Lease.Router != "" {
		if lease.Router, err = netip.ParseAddr(c.Lease.Router); err != nil {
			return nil, err
		}
	}
	for i, s := range c.Lease.DNSServers {
		if i >= netif.MaxDNSServers {
			break
		}
		if lease.DNSServers[i], err = netip.ParseAddr(s); err != nil {
			return nil, err
		}
	}

	return lease, nil
}

func (c *Config) rootCAs() (*x509.CertPool, error) {
	if c.TLS.CAFile == "" {
		return nil, nil //nolint:nilnil // verification disabled
	}

	pem, err := os.ReadFile(c.TLS.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificate found in %s", c.TLS.CAFile)
	}

	return pool, nil
}
