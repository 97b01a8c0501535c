// Package main implements testbed-gateway, a loopback diagnostic agent for
// the testbed bus. It answers ping and sleep requests and echoes channel
// data, which exercises every endpoint kind end to end against a broker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/testbedbus/transport/mqtt"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "testbed-gateway"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowHelp {
		printHelp(newFlagSet(&CLIConfig{}))
		return nil
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	mqtt.SetLibraryLogger(logger)

	if cli.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	gw, err := newGateway(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	logger.Info("Starting testbed gateway",
		"version", Version,
		"broker", cfg.Broker.URL,
		"kind", cfg.Broker.Kind,
		"topic", gw.AgentTopic(),
		"client_id", gw.ClientID())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Run(ctx); err != nil {
		return fmt.Errorf("run gateway: %w", err)
	}
	logger.Info("Testbed gateway stopped")
	return nil
}
