// Package main implements testbed-call, a command line client for agents
// on the testbed bus: it sends requests, publishes on input topics and
// follows output and error topics.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/c360/testbedbus/agent"
	"github.com/c360/testbedbus/config"
	"github.com/c360/testbedbus/topic"
	"github.com/c360/testbedbus/transport/mqtt"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "testbed-call"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath string
	Broker     string
	BrokerKind string
	Prefix     string
	Fields     map[string]string
	Timeout    time.Duration
	Count      int
	Rate       float64
	LogLevel   string
	ShowHelp   bool
	Command    string
	Args       []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet(cli *CLIConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetInterspersed(true)

	fs.StringVarP(&cli.ConfigPath, "config", "c",
		os.Getenv("TESTBEDBUS_CONFIG"),
		"Path to configuration file, JSON or YAML (env: TESTBEDBUS_CONFIG)")
	fs.StringVarP(&cli.Broker, "broker", "b", "", "Broker URL, overrides broker.url")
	fs.StringVar(&cli.BrokerKind, "broker-kind", "", "Broker kind: mqtt, nats; overrides broker.kind")
	fs.StringVar(&cli.Prefix, "prefix", "", "Prepended to every topic, overrides topics.prefix")
	fs.StringToStringVarP(&cli.Fields, "field", "f", nil, "Template field value, name=value; repeatable")
	fs.DurationVarP(&cli.Timeout, "timeout", "t", 0, "Request and publish timeout (default: timeouts.request)")
	fs.IntVarP(&cli.Count, "count", "n", 0, "Messages to send (send), or exit after this many messages, 0 for no limit (listen, errors)")
	fs.Float64Var(&cli.Rate, "rate", 0, "Messages per second for send -n, 0 for no limit")
	fs.StringVar(&cli.LogLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	fs.BoolVarP(&cli.ShowHelp, "help", "h", false, "Show help information")

	fs.Usage = func() { printHelp(fs) }
	return fs
}

// commandArgs bounds the positional arguments of each command.
var commandArgs = map[string]struct{ min, max int }{
	"request": {2, 3}, // base command [payload]
	"send":    {1, 2}, // template [payload]
	"listen":  {1, 1}, // template
	"errors":  {1, 1}, // base
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
	if cli.ShowHelp {
		return cli, nil
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return nil, fmt.Errorf("missing command")
	}
	cli.Command, cli.Args = rest[0], rest[1:]
	bounds, ok := commandArgs[cli.Command]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", cli.Command)
	}
	if len(cli.Args) < bounds.min || len(cli.Args) > bounds.max {
		return nil, fmt.Errorf("%s takes %d to %d arguments, got %d", cli.Command, bounds.min, bounds.max, len(cli.Args))
	}
	return cli, nil
}

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
	if cli.Broker != "" {
		cfg.Broker.URL = cli.Broker
	}
	if cli.BrokerKind != "" {
		cfg.Broker.Kind = cli.BrokerKind
	}
	if cli.Prefix != "" {
		cfg.Topics.Prefix = cli.Prefix
	}
	cfg.Log.Level = cli.LogLevel
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cli, err := parseFlags(args)
	if err != nil {
		return err
	}
	if cli.ShowHelp {
		printHelp(newFlagSet(&CLIConfig{}))
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.Log.Level)
	mqtt.SetLibraryLogger(logger)

	clientID := agent.ClientID(appName)
	tr, err := agent.NewTransport(cfg, clientID, nil, logger)
	if err != nil {
		return err
	}

	s := &session{
		transport:        tr,
		clientID:         clientID,
		subscribeTimeout: cfg.Timeouts.Subscribe,
		logger:           logger,
		out:              out,
	}
	return execute(ctx, s, cfg, cli)
}

// execute runs the parsed command on s.
func execute(ctx context.Context, s *session, cfg *config.Config, cli *CLIConfig) error {
	timeout := cli.Timeout
	if timeout <= 0 {
		timeout = cfg.Timeouts.Request
	}
	fields := topic.Fields(cli.Fields)
	at := func(i int) string {
		if i < len(cli.Args) {
			return cli.Args[i]
		}
		return ""
	}
	prefixed := func(tmpl string) string { return topic.Join(cfg.Topics.Prefix, tmpl) }

	switch cli.Command {
	case "request":
		return request(ctx, s, prefixed(at(0)), at(1), []byte(at(2)), fields, timeout)
	case "send":
		return send(ctx, s, prefixed(at(0)), []byte(at(1)), fields, cli.Count, cli.Rate, timeout)
	case "listen":
		return listen(ctx, s, prefixed(at(0)), cli.Count, timeout)
	case "errors":
		return watchErrors(ctx, s, prefixed(at(0)), cli.Count, timeout)
	default:
		return fmt.Errorf("unknown command %q", cli.Command)
	}
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})).
		With("service", appName)
}

func printHelp(fs *pflag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - talk to testbed agents over the bus

Usage:
  %s [options] request <base> <command> [payload]
  %s [options] send <template> [payload]
  %s [options] listen <template>
  %s [options] errors <base>

Templates take their field values from --field name=value.

Options:
`, appName, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Ping a gateway
  %s -b tcp://localhost:1883 request testbed/gateway/{site} ping -f site=grenoble

  # Send ten lines to a node, two a second
  %s -n 10 --rate 2 send 'testbed/gateway/grenoble/echo/{node}/data/in' hello -f node=m3-1

  # Follow the echo output of every node
  %s listen 'testbed/gateway/grenoble/echo'

  # Print the next error of a gateway
  %s -n 1 errors testbed/gateway/grenoble

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version)
}
