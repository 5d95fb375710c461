package hostif

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/dice-ticker/dice-net/logger"
)

const (
	// DefaultDialTimeout is the default time a connection attempt may take.
	DefaultDialTimeout = 10 * time.Second

	// DefaultChunkSize is the default size of the scratch blocks moving data between a
	// connection and the socket buffers.
	DefaultChunkSize = 1536

	// DefaultChunkCount is the default number of scratch blocks. Every connected socket
	// holds two.
	DefaultChunkCount = 32
)

// DialFunc opens a connection to address on the given network.
type DialFunc func(ctx context.Context, network string, address string) (net.Conn, error)

// Config holds the settings of an Interface.
type Config struct {
	// logger provides a logger instance for connection events.
	logger logger.Logger

	// dialTimeout bounds a single connection attempt.
	// Defaults to DefaultDialTimeout.
	dialTimeout time.Duration

	// dial overrides the dialer. When nil a net.Dialer is used.
	dial DialFunc

	// bindLocalPort binds the local port chosen by the stack instead of letting the
	// host pick one.
	bindLocalPort bool

	// chunkSize and chunkCount dimension the scratch arena.
	chunkSize  int
	chunkCount int

	// linkUp is the initial carrier state.
	// Defaults to true.
	linkUp bool
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		logger:      logger.GetLogger(),
		dialTimeout: DefaultDialTimeout,
		chunkSize:   DefaultChunkSize,
		chunkCount:  DefaultChunkCount,
		linkUp:      true,
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Option represents a functional option for configuring an Interface.
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

// WithLogger sets the logger of the interface.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithDialTimeout sets the time a connection attempt may take.
func WithDialTimeout(d time.Duration) Option {
	return newOptFunc("WithDialTimeout", func(cfg *Config) error {
		if d <= 0 {
			return errors.New("dial timeout must be positive")
		}
		cfg.dialTimeout = d

		return nil
	})
}

// WithDialFunc replaces the dialer of the interface.
func WithDialFunc(dial DialFunc) Option {
	return newOptFunc("WithDialFunc", func(cfg *Config) error {
		if dial == nil {
			return errors.New("dial func is nil")
		}
		cfg.dial = dial

		return nil
	})
}

// WithBindLocalPort makes connections use the local port chosen by the stack.
func WithBindLocalPort(enable bool) Option {
	return newOptFunc("WithBindLocalPort", func(cfg *Config) error {
		cfg.bindLocalPort = enable
		return nil
	})
}

// WithChunks dimensions the scratch arena.
func WithChunks(size int, count int) Option {
	return newOptFunc("WithChunks", func(cfg *Config) error {
		if size <= 0 || count <= 0 {
			return errors.New("chunk size and count must be positive")
		}
		cfg.chunkSize = size
		cfg.chunkCount = count

		return nil
	})
}

// WithLinkUp sets the initial carrier state.
func WithLinkUp(up bool) Option {
	return newOptFunc("WithLinkUp", func(cfg *Config) error {
		cfg.linkUp = up
		return nil
	})
}
