package main

import (
	"fmt"
	"strings"

	"github.com/dice-ticker/dice-net/device"
	"github.com/spf13/viper"
)

const envPrefix = "DICE"

// configDefaults lists every configuration key with its default value. Keys must be
// known to viper for environment overrides to apply on Unmarshal.
func configDefaults() map[string]any {
	cfg := device.DefaultConfig()

	return map[string]any{
		"sockets":            cfg.Sockets,
		"socket_buffer_size": cfg.SocketBufferSize,
		"poll_interval":      cfg.PollInterval,
		"half_open_limit":    cfg.HalfOpenLimit,
		"metrics_addr":       cfg.MetricsAddr,

		"lease.address":     cfg.Lease.Address,
		"lease.router":      cfg.Lease.Router,
		"lease.dns_servers": cfg.Lease.DNSServers,
		"lease.delay":       cfg.Lease.Delay,

		"tls.server_name":  cfg.TLS.ServerName,
		"tls.ca_file":      cfg.TLS.CAFile,
		"tls.retry_budget": cfg.TLS.RetryBudget,
		"tls.retry_delay":  cfg.TLS.RetryDelay,

		"prices.endpoint":          cfg.Prices.Endpoint,
		"prices.host":              cfg.Prices.Host,
		"prices.symbols":           cfg.Prices.Symbols,
		"prices.currency":          cfg.Prices.Currency,
		"prices.interval":          cfg.Prices.Interval,
		"prices.open_day_interval": cfg.Prices.OpenDayInterval,
		"prices.max_backoff":       cfg.Prices.MaxBackoff,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range configDefaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// loadConfig reads the device configuration. Environment variables take precedence over
// the file at path, which takes precedence over the defaults.
func loadConfig(v *viper.Viper, path string) (device.Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return device.Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg device.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return device.Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return device.Config{}, err
	}

	return cfg, nil
}
