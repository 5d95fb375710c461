package netstack

import (
	"errors"
	"math/rand/v2"

	"github.com/dice-ticker/dice-net/logger"
	"github.com/dice-ticker/dice-net/netif"
)

// DefaultHalfOpenLimit is the default number of consecutive poll cycles a socket may stay
// half-open before it is aborted. At the 1ms poll period this is ten seconds.
const DefaultHalfOpenLimit = 10000

// Config holds the settings of a NetworkStack.
type Config struct {
	// logger provides a logger instance for socket and lease events.
	logger logger.Logger

	// dhcp is the DHCP client polled with the interface. When nil the interface keeps
	// its static address.
	dhcp netif.DHCPClient

	// portSource is the random source of ephemeral port offsets.
	// Defaults to a PCG generator seeded from the runtime random source.
	portSource rand.Source

	// halfOpenLimit is the number of consecutive poll cycles a socket may stay
	// half-open. Zero disables reaping.
	// Defaults to DefaultHalfOpenLimit.
	halfOpenLimit int
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		logger:        logger.GetLogger(),
		portSource:    rand.NewPCG(rand.Uint64(), rand.Uint64()),
		halfOpenLimit: DefaultHalfOpenLimit,
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Option represents a functional option for configuring a NetworkStack.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithLogger sets the logger of the stack.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithDHCP sets the DHCP client polled alongside the interface.
func WithDHCP(client netif.DHCPClient) Option {
	return newOptFunc("WithDHCP", func(cfg *Config) error {
		if client == nil {
			return errors.New("dhcp client is nil")
		}
		cfg.dhcp = client

		return nil
	})
}

// WithPortSource sets the random source used to draw ephemeral ports.
func WithPortSource(src rand.Source) Option {
	return newOptFunc("WithPortSource", func(cfg *Config) error {
		if src == nil {
			return errors.New("port source is nil")
		}
		cfg.portSource = src

		return nil
	})
}

// WithHalfOpenLimit sets the number of consecutive poll cycles after which a half-open
// socket is aborted. Zero disables reaping.
func WithHalfOpenLimit(cycles int) Option {
	return newOptFunc("WithHalfOpenLimit", func(cfg *Config) error {
		if cycles < 0 {
			return errors.New("half-open limit must not be negative")
		}
		cfg.halfOpenLimit = cycles

		return nil
	})
}
