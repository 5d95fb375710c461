package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dice-ticker/dice-net/device"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		require := require.New(t)

		def := device.DefaultConfig()
		cfg, err := loadConfig(newViper(), "")
		require.NoError(err)
		require.Equal(def.Sockets, cfg.Sockets)
		require.Equal(def.PollInterval, cfg.PollInterval)
		require.Equal(def.TLS, cfg.TLS)
		require.Equal(def.Prices, cfg.Prices)
		require.Empty(cfg.Lease.Address)
		require.Empty(cfg.Lease.DNSServers)
	})

	t.Run("file", func(t *testing.T) {
		require := require.New(t)

		path := writeConfig(t, `
sockets: 8
lease:
  address: 10.0.0.5/24
  router: 10.0.0.1
  dns_servers: [1.1.1.1]
prices:
  symbols: [BTC, DOGE]
  interval: 8s
tls:
  retry_delay: 1ms
`)

		cfg, err := loadConfig(newViper(), path)
		require.NoError(err)
		require.Equal(8, cfg.Sockets)
		require.Equal("10.0.0.5/24", cfg.Lease.Address)
		require.Equal("10.0.0.1", cfg.Lease.Router)
		require.Equal([]string{"1.1.1.1"}, cfg.Lease.DNSServers)
		require.Equal([]string{"BTC", "DOGE"}, cfg.Prices.Symbols)
		require.Equal(8*time.Second, cfg.Prices.Interval)
		require.Equal(time.Millisecond, cfg.TLS.RetryDelay)
		require.Equal("USD", cfg.Prices.Currency)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		require := require.New(t)

		path := writeConfig(t, "sockets: 8\n")
		t.Setenv("DICE_SOCKETS", "2")
		t.Setenv("DICE_PRICES_SYMBOLS", "ETH,ADA")
		t.Setenv("DICE_PRICES_INTERVAL", "10s")

		cfg, err := loadConfig(newViper(), path)
		require.NoError(err)
		require.Equal(2, cfg.Sockets)
		require.Equal([]string{"ETH", "ADA"}, cfg.Prices.Symbols)
		require.Equal(10*time.Second, cfg.Prices.Interval)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadConfig(newViper(), filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("invalid", func(t *testing.T) {
		path := writeConfig(t, "sockets: 0\n")
		_, err := loadConfig(newViper(), path)
		require.Error(t, err)
	})
}

func TestCommands(t *testing.T) {
	t.Run("version", func(t *testing.T) {
		require := require.New(t)

		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"version"})
		require.NoError(cmd.Execute())
		require.Contains(out.String(), "dice-ticker version dev")
	})

	t.Run("config", func(t *testing.T) {
		require := require.New(t)

		path := writeConfig(t, "prices:\n  currency: EUR\n")

		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"config", "--config", path})
		require.NoError(cmd.Execute())
		require.Contains(out.String(), "currency: EUR")
		require.Contains(out.String(), "server_name: min-api.cryptocompare.com")
	})

	t.Run("run with unknown log level", func(t *testing.T) {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"run", "--log-level", "verbose"})
		require.Error(t, cmd.Execute())
	})

	t.Run("run with invalid config", func(t *testing.T) {
		path := writeConfig(t, "sockets: 0\n")

		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"run", "--config", path})
		require.Error(t, cmd.Execute())
	})
}
