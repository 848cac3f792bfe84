package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/odvcencio/steplink/pkg/config"
	"github.com/odvcencio/steplink/pkg/observability"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// stdout and stderr are swapped in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		printHelp()
		return exitUsage
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
		return exitOK
	case "--help", "-h", "help":
		printHelp()
		return exitOK
	case "probe":
		return runCommand(ctx, runProbeCommand, args[1:])
	case "report":
		return runCommand(ctx, runReportCommand, args[1:])
	case "journal":
		return runCommand(ctx, runJournalCommand, args[1:])
	case "fake-agent":
		return runCommand(ctx, runFakeAgentCommand, args[1:])
	case "config":
		return runCommand(ctx, runConfigCommand, args[1:])
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", args[0])
		printHelp()
		return exitUsage
	}
}

func runCommand(ctx context.Context, handler func(context.Context, []string) error, args []string) int {
	if err := handler(ctx, args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return exitOK
}

func printVersion() {
	fmt.Fprintf(stdout, "steplink %s\n", version)
	if commit != "unknown" {
		fmt.Fprintf(stdout, "  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Fprintf(stdout, "  Built:      %s\n", buildDate)
	}
	fmt.Fprintf(stdout, "  Go version: %s\n", runtime.Version())
}

func printHelp() {
	fmt.Fprint(stderr, `steplink - agent connection and step reporting toolkit

Usage:
  steplink <command> [flags]

Commands:
  probe        Open and validate the agent socket, then close it
  report       Start a session and report a single step
  journal      List steps kept in the local journal
  fake-agent   Run a loopback agent for local development
  config       Print the effective configuration
  version      Print version information

Run 'steplink <command> --help' for command flags.
`)
}

// loadConfig loads from path when set and from the default locations otherwise.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func newLogger(cfg *config.Config, verbose bool) (*slog.Logger, error) {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.Options{
		Level:  level,
		Format: cfg.Logging.Format,
		Writer: stderr,
	})
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("steplink "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseFlags parses args and rejects positional arguments.
func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() > 0 {
		return withExitCode(fmt.Errorf("unexpected argument: %s", fs.Arg(0)), exitUsage)
	}
	return nil
}
