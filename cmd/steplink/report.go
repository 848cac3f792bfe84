package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/odvcencio/steplink/pkg/agent"
	"github.com/odvcencio/steplink/pkg/agentapi"
	"github.com/odvcencio/steplink/pkg/bus"
	"github.com/odvcencio/steplink/pkg/config"
	"github.com/odvcencio/steplink/pkg/driver"
	"github.com/odvcencio/steplink/pkg/journal"
	"github.com/odvcencio/steplink/pkg/observability"
	"github.com/odvcencio/steplink/pkg/report"
)

// fileScreenshotter serves a PNG from disk as the step screenshot.
type fileScreenshotter struct {
	path string
}

func (f fileScreenshotter) Screenshot(context.Context) ([]byte, error) {
	return os.ReadFile(f.path)
}

func runReportCommand(ctx context.Context, args []string) error {
	fs := newFlagSet("report")
	description := fs.StringP("description", "d", "", "step description")
	message := fs.StringP("message", "m", "", "step message")
	failed := fs.Bool("failed", false, "report the step as failed")
	screenshot := fs.String("screenshot", "", "PNG file to attach as the screenshot")
	configPath := fs.String("config", "", "config file path")
	disable := fs.Bool("disable-reports", false, "keep the step local instead of sending it")
	verbose := fs.BoolP("verbose", "V", false, "debug logging and bus events")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *description == "" {
		return withExitCode(fmt.Errorf("--description is required"), exitUsage)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *disable {
		cfg.Reporting.Disabled = true
	}
	logger, err := newLogger(cfg, *verbose)
	if err != nil {
		return err
	}

	if cfg.Telemetry.Tracing {
		tp, err := observability.NewTracerProvider("steplink", version, stderr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	events, err := bus.New(busConfig(cfg))
	if err != nil {
		return err
	}
	defer events.Close()
	if *verbose {
		sub, err := events.Subscribe(ctx, bus.Subject(">"), func(msg *bus.Message) {
			fmt.Fprintf(stderr, "event %s %s\n", msg.Subject, msg.Data)
		})
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
	}

	var recorder report.Recorder
	var store *journal.Store
	if cfg.Reporting.JournalPath != "" {
		store, err = journal.Open(cfg.Reporting.JournalPath)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = store
	}

	opts := driverOptions(cfg, logger)
	opts.Events = events
	opts.Recorder = recorder
	if *screenshot != "" {
		opts.Screenshotter = fileScreenshotter{path: *screenshot}
	}

	d, err := driver.New(ctx, opts)
	if err != nil {
		return err
	}
	defer d.Quit()
	if store != nil {
		store.SetSession(d.SessionID())
	}

	var stepOpts []report.StepOption
	if *screenshot != "" {
		stepOpts = append(stepOpts, report.CaptureScreenshot())
	}
	step := report.NewStepReport(*description, *message, !*failed)
	if !d.Reporter().ReportStep(ctx, step, stepOpts...) {
		return withExitCode(fmt.Errorf("step %s was not accepted by the agent", step.ID()), exitConnection)
	}

	outcome := "submitted"
	if d.Disabled() {
		outcome = "disabled"
	}
	fmt.Fprintf(stdout, "%s %s session=%s\n", outcome, step.ID(), d.SessionID())
	return nil
}

func busConfig(cfg *config.Config) bus.Config {
	bc := bus.DefaultConfig()
	bc.URL = cfg.Bus.URL
	if cfg.Bus.Name != "" {
		bc.Name = cfg.Bus.Name
	}
	if cfg.Agent.ConnectTimeout > 0 {
		bc.Timeout = cfg.Agent.ConnectTimeout
	}
	return bc
}

func driverOptions(cfg *config.Config, logger *slog.Logger) driver.Options {
	return driver.Options{
		APIConfig: agentapi.Config{
			BaseURL:           cfg.Agent.URL,
			Token:             cfg.Agent.Token,
			Timeout:           cfg.Agent.RequestTimeout,
			RequestsPerSecond: cfg.Agent.MaxRequestsPerSecond,
			Logger:            logger,
		},
		ManagerConfig: agent.Config{
			ConnectTimeout:    cfg.Agent.ConnectTimeout,
			ValidationTimeout: cfg.Agent.ValidationTimeout,
		},
		Session: agentapi.SessionRequest{
			ProjectName: cfg.Project.Name,
			JobName:     cfg.Project.Job,
			SDKVersion:  version,
		},
		DisableReports: cfg.Reporting.Disabled,
		Logger:         logger,
	}
}
