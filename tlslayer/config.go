package tlslayer

import (
	"crypto/x509"
	"errors"
	"time"

	"github.com/dice-ticker/dice-net/logger"
)

const (
	// TimeoutThreshold is the default retry budget of a single Write or Read.
	TimeoutThreshold = 100000

	// DefaultRetryDelay is the default pause between two retry iterations. With the
	// default budget a stalled operation gives up after roughly ten seconds.
	DefaultRetryDelay = 100 * time.Microsecond
)

// Config holds the settings of a Layer.
type Config struct {
	// retryBudget is the number of engine retries a single Write or Read may consume.
	// Defaults to TimeoutThreshold.
	retryBudget int

	// retryDelay is the pause between retry iterations. Zero yields the processor
	// with runtime.Gosched instead of sleeping.
	// Defaults to DefaultRetryDelay.
	retryDelay time.Duration

	// engineCfg is handed to the engine factory at Init.
	// Peer verification is disabled by default.
	engineCfg EngineConfig

	// newEngine constructs the engine at Init.
	// Defaults to NewStdEngine.
	newEngine EngineFactory

	// logger provides a logger instance for session events.
	logger logger.Logger
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		retryBudget: TimeoutThreshold,
		retryDelay:  DefaultRetryDelay,
		engineCfg:   EngineConfig{InsecureSkipVerify: true},
		newEngine:   NewStdEngine,
		logger:      logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Option represents a functional option for configuring a Layer.
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

// WithRetryBudget sets the number of retries a single Write or Read may consume.
func WithRetryBudget(n int) Option {
	return newOptFunc("WithRetryBudget", func(cfg *Config) error {
		if n <= 0 {
			return errors.New("retry budget must be positive")
		}
		cfg.retryBudget = n

		return nil
	})
}

// WithRetryDelay sets the pause between retry iterations. Zero yields the processor
// without sleeping.
func WithRetryDelay(d time.Duration) Option {
	return newOptFunc("WithRetryDelay", func(cfg *Config) error {
		if d < 0 || d > time.Second {
			return errors.New("retry delay should be in range of [0, 1s]")
		}
		cfg.retryDelay = d

		return nil
	})
}

// WithServerName sets the SNI server name of the sessions.
func WithServerName(name string) Option {
	return newOptFunc("WithServerName", func(cfg *Config) error {
		cfg.engineCfg.ServerName = name
		return nil
	})
}

// WithRootCAs enables verification of the peer certificate against pool.
func WithRootCAs(pool *x509.CertPool) Option {
	return newOptFunc("WithRootCAs", func(cfg *Config) error {
		if pool == nil {
			return errors.New("root CA pool is nil")
		}
		cfg.engineCfg.RootCAs = pool
		cfg.engineCfg.InsecureSkipVerify = false

		return nil
	})
}

// WithEngine sets the factory of the TLS engine.
func WithEngine(factory EngineFactory) Option {
	return newOptFunc("WithEngine", func(cfg *Config) error {
		if factory == nil {
			return errors.New("engine factory is nil")
		}
		cfg.newEngine = factory

		return nil
	})
}

// WithLogger sets the logger of the layer.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
