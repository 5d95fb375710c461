package device

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/dice-ticker/dice-net/hostif"
	"github.com/dice-ticker/dice-net/logger"
)

type options struct {
	logger    logger.Logger
	entropy   io.Reader
	ifaceOpts []hostif.Option
}

func newOptions(opts ...Option) (*options, error) {
	o := &options{
		logger:  logger.GetLogger(),
		entropy: rand.Reader,
	}

	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// Option represents a functional option for configuring a Device.
type Option interface {
	apply(*options) error
}

type optFunc struct {
	name      string
	applyFunc func(*options) error
}

func (o *optFunc) apply(opts *options) error { return o.applyFunc(opts) }

func newOptFunc(name string, f func(*options) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithLogger sets the logger of the device and all of its layers.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(o *options) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		o.logger = l

		return nil
	})
}

// WithEntropy sets the entropy source seeding the TLS layer.
func WithEntropy(r io.Reader) Option {
	return newOptFunc("WithEntropy", func(o *options) error {
		o.entropy = r
		return nil
	})
}

// WithInterfaceOptions adds options of the host interface.
func WithInterfaceOptions(opts ...hostif.Option) Option {
	return newOptFunc("WithInterfaceOptions", func(o *options) error {
		o.ifaceOpts = append(o.ifaceOpts, opts...)
		return nil
	})
}
