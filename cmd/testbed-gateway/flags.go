package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/c360/testbedbus/agent"
	"github.com/c360/testbedbus/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	Broker      string
	BrokerKind  string
	Prefix      string
	AgentTopic  string
	Site        string
	LogLevel    string
	LogFormat   string
	MetricsPort int
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func newFlagSet(cli *CLIConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)

	// Define flags with environment variable fallback
	fs.StringVarP(&cli.ConfigPath, "config", "c",
		getEnv("TESTBEDBUS_CONFIG", ""),
		"Path to configuration file, JSON or YAML (env: TESTBEDBUS_CONFIG)")
	fs.StringVarP(&cli.Broker, "broker", "b", "",
		"Broker URL, overrides broker.url")
	fs.StringVar(&cli.BrokerKind, "broker-kind", "",
		"Broker kind: mqtt, nats; overrides broker.kind")
	fs.StringVar(&cli.Prefix, "prefix", "",
		"Topics prefix, overrides topics.prefix")
	fs.StringVar(&cli.AgentTopic, "agent-topic", "",
		"Agent topic, overrides topics.agent_topic")
	fs.StringVar(&cli.Site, "site", "",
		"Site of the agent, overrides topics.site (default: host name)")
	fs.StringVar(&cli.LogLevel, "log-level",
		getEnv("TESTBEDBUS_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: TESTBEDBUS_LOG_LEVEL)")
	fs.StringVar(&cli.LogFormat, "log-format",
		getEnv("TESTBEDBUS_LOG_FORMAT", ""),
		"Log format: json, text (env: TESTBEDBUS_LOG_FORMAT)")
	fs.IntVar(&cli.MetricsPort, "metrics-port",
		getEnvInt("TESTBEDBUS_METRICS_PORT", -1),
		"Serve /metrics and /health on this port, 0 to disable (env: TESTBEDBUS_METRICS_PORT)")
	fs.BoolVarP(&cli.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVarP(&cli.ShowHelp, "help", "h", false, "Show help information")
	fs.BoolVar(&cli.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printHelp(fs) }
	return fs
}

func parseFlags(args []string) (*CLIConfig, error) {
	cli := &CLIConfig{}
	fs := newFlagSet(cli)
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			cli.ShowHelp = true
			return cli, nil
		}
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return cli, nil
}

// loadConfig loads the configuration file and applies the flags over it.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(false)
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		value string
		field *string
	}{
		{cli.Broker, &cfg.Broker.URL},
		{cli.BrokerKind, &cfg.Broker.Kind},
		{cli.Prefix, &cfg.Topics.Prefix},
		{cli.AgentTopic, &cfg.Topics.AgentTopic},
		{cli.Site, &cfg.Topics.Site},
		{cli.LogLevel, &cfg.Log.Level},
		{cli.LogFormat, &cfg.Log.Format},
	}
	for _, o := range overrides {
		if o.value != "" {
			*o.field = o.value
		}
	}
	if cfg.Topics.Site == "" {
		cfg.Topics.Site = agent.Hostname()
	}
	switch {
	case cli.MetricsPort == 0:
		cfg.Metrics.Enabled = false
	case cli.MetricsPort > 0:
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = cli.MetricsPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printHelp(fs *pflag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - loopback diagnostic agent of the testbed bus

Usage: %s [options]

Topics below {prefix}/%s:
  ctl/ping/request/{clientid}/{requestid}       empty answer
  ctl/sleep/request/{clientid}/{requestid}      deferred answer after the payload duration
  echo/{node}/data/in                           echoed on echo/{node}/data/out
  error/                                        failures of the topics above

Options:
`, appName, os.Args[0], defaultAgentTopic)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run against a local mosquitto
  %s --broker tcp://localhost:1883 --site grenoble

  # Run against NATS with debug logging
  %s --broker-kind nats --broker nats://localhost:4222 --log-level debug --log-format text

  # Validate configuration only
  %s --config gateway.yaml --validate

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
