package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/testbedbus/config"
	"github.com/c360/testbedbus/errors"
)

func TestParseFlags(t *testing.T) {
	cli, err := parseFlags([]string{"-b", "tcp://broker:1883", "--site", "lille", "--metrics-port", "9100", "--validate"})
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker:1883", cli.Broker)
	assert.Equal(t, "lille", cli.Site)
	assert.Equal(t, 9100, cli.MetricsPort)
	assert.True(t, cli.Validate)

	cli, err = parseFlags([]string{"-h"})
	require.NoError(t, err)
	assert.True(t, cli.ShowHelp)

	_, err = parseFlags([]string{"--unknown"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"extra"})
	assert.Error(t, err)
}

func TestParseFlags_Env(t *testing.T) {
	t.Setenv("TESTBEDBUS_METRICS_PORT", "9200")
	t.Setenv("TESTBEDBUS_LOG_FORMAT", "text")

	cli, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, 9200, cli.MetricsPort)
	assert.Equal(t, "text", cli.LogFormat)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("HOSTNAME", "testhost")

	cfg, err := loadConfig(&CLIConfig{MetricsPort: -1})
	require.NoError(t, err)
	assert.Equal(t, config.Default().Broker.URL, cfg.Broker.URL)
	assert.Equal(t, "testhost", cfg.Topics.Site)
	assert.False(t, cfg.Metrics.Enabled)

	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
broker:
  kind: nats
  url: nats://from-file:4222
topics:
  site: file-site
metrics:
  enabled: true
`), 0o600))

	cfg, err = loadConfig(&CLIConfig{
		ConfigPath:  path,
		Broker:      "nats://from-flag:4222",
		Prefix:      "pfx",
		MetricsPort: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, config.BrokerNATS, cfg.Broker.Kind)
	assert.Equal(t, "nats://from-flag:4222", cfg.Broker.URL)
	assert.Equal(t, "file-site", cfg.Topics.Site)
	assert.Equal(t, "pfx", cfg.Topics.Prefix)
	assert.False(t, cfg.Metrics.Enabled, "metrics port 0 disables metrics")

	cfg, err = loadConfig(&CLIConfig{MetricsPort: 9300})
	require.NoError(t, err)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9300, cfg.Metrics.Port)

	_, err = loadConfig(&CLIConfig{BrokerKind: "amqp", MetricsPort: -1})
	assert.True(t, errors.IsInvalid(err))
}
