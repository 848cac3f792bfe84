package main

import (
	"context"
	"fmt"
	"time"

	"github.com/odvcencio/steplink/pkg/agent"
)

func runProbeCommand(ctx context.Context, args []string) error {
	fs := newFlagSet("probe")
	host := fs.String("host", "localhost", "agent host")
	port := fs.Int("port", 0, "agent socket port")
	token := fs.String("token", "", "expected validation token (empty skips validation)")
	connectTimeout := fs.Duration("connect-timeout", agent.DefaultConnectTimeout, "dial timeout (default: agent.connect_timeout)")
	validationTimeout := fs.Duration("validation-timeout", agent.DefaultValidationTimeout, "how long to wait for the token (default: agent.validation_timeout)")
	configPath := fs.String("config", "", "config file path")
	verbose := fs.BoolP("verbose", "V", false, "debug logging")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *port <= 0 {
		return withExitCode(fmt.Errorf("--port is required"), exitUsage)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, *verbose)
	if err != nil {
		return err
	}

	mcfg := agent.Config{
		ConnectTimeout:    cfg.Agent.ConnectTimeout,
		ValidationTimeout: cfg.Agent.ValidationTimeout,
	}
	if fs.Changed("connect-timeout") {
		mcfg.ConnectTimeout = *connectTimeout
	}
	if fs.Changed("validation-timeout") {
		mcfg.ValidationTimeout = *validationTimeout
	}

	manager, err := agent.NewManager(mcfg, agent.WithLogger(logger))
	if err != nil {
		return err
	}
	defer manager.Close()

	start := time.Now()
	if err := manager.Open(ctx, *host, *port, *token); err != nil {
		fmt.Fprintf(stdout, "%s %s\n", manager.State(), manager.Target())
		return err
	}
	fmt.Fprintf(stdout, "%s %s (%s)\n", manager.State(), manager.Target(), time.Since(start).Round(time.Millisecond))
	return nil
}
