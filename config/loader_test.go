package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/testbedbus/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "agent.json", `{
		"broker": {"kind": "nats", "url": "nats://broker:4222", "reconnect_wait": "5s"},
		"topics": {"prefix": "iot", "site": "grenoble"},
		"timeouts": {"request": "2s"},
		"workers": {"count": 8}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BrokerNATS, cfg.Broker.Kind)
	assert.Equal(t, "nats://broker:4222", cfg.Broker.URL)
	assert.Equal(t, 5*time.Second, cfg.Broker.ReconnectWait)
	assert.Equal(t, 1, cfg.Broker.QoS, "defaults survive partial sections")
	assert.Equal(t, "iot", cfg.Topics.Prefix)
	assert.Equal(t, "grenoble", cfg.Topics.Site)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Request)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Subscribe)
	assert.Equal(t, 8, cfg.Workers.Count)
	assert.Equal(t, 64, cfg.Workers.QueueSize)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "agent.yaml", `
broker:
  url: tcp://mosquitto:1883
  qos: 0
timeouts:
  subscribe: 3s
metrics:
  enabled: true
  port: 9100
log:
  level: debug
  format: json
start_attempts: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BrokerMQTT, cfg.Broker.Kind)
	assert.Equal(t, "tcp://mosquitto:1883", cfg.Broker.URL)
	assert.Equal(t, 0, cfg.Broker.QoS)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Subscribe)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9100, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3, cfg.StartAttempts)
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.yaml", "broker:\n  url: tcp://base:1883\n  username: agent\ntopics:\n  prefix: iot\n")
	override := writeFile(t, "site.json", `{"broker": {"url": "tcp://site:1883"}}`)

	l := NewLoader()
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "tcp://site:1883", cfg.Broker.URL)
	assert.Equal(t, "agent", cfg.Broker.Username)
	assert.Equal(t, "iot", cfg.Topics.Prefix)
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeFile(t, "agent.json", `{"broker": {"url": "tcp://file:1883"}}`)

	t.Setenv("TESTBEDBUS_BROKER_URL", "tcp://env:1883")
	t.Setenv("TESTBEDBUS_TOPICS_AGENT_TOPIC", "lab/agent")
	t.Setenv("TESTBEDBUS_TIMEOUTS_REQUEST", "45s")
	t.Setenv("TESTBEDBUS_WORKERS_COUNT", "2")
	t.Setenv("TESTBEDBUS_METRICS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tcp://env:1883", cfg.Broker.URL)
	assert.Equal(t, "lab/agent", cfg.Topics.AgentTopic)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Request)
	assert.Equal(t, 2, cfg.Workers.Count)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("GW_BROKER_KIND", "nats")
	t.Setenv("GW_BROKER_URL", "nats://env:4222")

	l := NewLoader()
	l.SetEnvPrefix("GW")
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, BrokerNATS, cfg.Broker.Kind)
	assert.Equal(t, "nats://env:4222", cfg.Broker.URL)
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		env  map[string]string
	}{
		{"bad json", "a.json", `{"broker": `, nil},
		{"bad yaml", "a.yaml", "broker: [", nil},
		{"unknown field", "a.json", `{"brokr": {}}`, nil},
		{"bad duration", "a.json", `{"timeouts": {"request": "soon"}}`, nil},
		{"wrong extension", "a.toml", `broker = 1`, nil},
		{"too deep json", "a.json", strings.Repeat(`{"a":`, maxNesting+1) + "1" + strings.Repeat("}", maxNesting+1), nil},
		{"too deep yaml", "a.yaml", "x: " + strings.Repeat("[", maxNesting+1) + strings.Repeat("]", maxNesting+1), nil},
		{"too large", "a.json", `{"log": {"level": "` + strings.Repeat("x", maxConfigSize) + `"}}`, nil},
		{"invalid value", "a.json", `{"broker": {"kind": "amqp"}}`, nil},
		{"bad env int", "a.json", `{}`, map[string]string{"TESTBEDBUS_WORKERS_COUNT": "many"}},
		{"bad env duration", "a.json", `{}`, map[string]string{"TESTBEDBUS_TIMEOUTS_SHUTDOWN": "later"}},
		{"bad env bool", "a.json", `{}`, map[string]string{"TESTBEDBUS_METRICS_ENABLED": "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tt.file, tt.body))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "got %v", err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoader_ValidationDisabled(t *testing.T) {
	path := writeFile(t, "agent.json", `{"broker": {"kind": "amqp"}}`)

	l := NewLoader()
	l.AddLayer(path)
	l.EnableValidation(false)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "amqp", cfg.Broker.Kind)
}

func TestConfig_SaveToFile(t *testing.T) {
	cfg := Default()
	cfg.Broker.Kind = BrokerNATS
	cfg.Broker.URL = "nats://saved:4222"
	cfg.Timeouts.Request = 12 * time.Second

	for _, name := range []string{"saved.json", "saved.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, cfg.SaveToFile(path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestValidateConfigPath(t *testing.T) {
	assert.Error(t, validateConfigPath(""))
	assert.Error(t, validateConfigPath("../outside.json"))
	assert.Error(t, validateConfigPath("agent.ini"))
	assert.Error(t, validateConfigPath(strings.Repeat("a", maxPathLen+1)+".json"))
	assert.NoError(t, validateConfigPath("agent.yml"))
	assert.NoError(t, validateConfigPath("/etc/testbed/agent.json"))
	assert.NoError(t, validateConfigPath("conf/../agent.json"))
	assert.True(t, errors.IsInvalid(validateConfigPath("conf/../../agent.json")))
}

func TestValidateEnvVar(t *testing.T) {
	assert.NoError(t, validateEnvVar("K", ""))
	assert.Error(t, validateEnvVar("K", "a\x00b"))
	assert.Error(t, validateEnvVar("K", strings.Repeat("x", maxEnvVarLen+1)))
}
