// Package driver is the handle a test holds for the lifetime of a run. New
// starts a development session with the agent and validates the agent
// socket; construction fails if either step fails. The driver then serves
// as the reporting channel for every adapter attached to it.
package driver

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/odvcencio/steplink/pkg/adapter"
	"github.com/odvcencio/steplink/pkg/agent"
	"github.com/odvcencio/steplink/pkg/agentapi"
	"github.com/odvcencio/steplink/pkg/bus"
	apperrors "github.com/odvcencio/steplink/pkg/errors"
	"github.com/odvcencio/steplink/pkg/observability"
	"github.com/odvcencio/steplink/pkg/report"
)

// Options configures New. Zero values fall back to defaults.
type Options struct {
	// API talks to the agent. When nil a client is built from APIConfig.
	API       *agentapi.Client
	APIConfig agentapi.Config

	// Manager owns the agent socket. When nil the driver creates and owns
	// one built from ManagerConfig.
	Manager       *agent.Manager
	ManagerConfig agent.Config

	Session agentapi.SessionRequest

	Screenshotter  report.Screenshotter
	Recorder       report.Recorder
	Events         bus.Publisher
	DisableReports bool
	Logger         *slog.Logger
}

// Driver is a live session with the agent.
type Driver struct {
	api     *agentapi.Client
	manager *agent.Manager
	session agentapi.SessionResponse
	gate    *report.Gate
	logger  *slog.Logger

	disabled atomic.Bool
	quit     atomic.Bool
	quitOnce sync.Once
}

var (
	_ report.Channel           = (*Driver)(nil)
	_ adapter.ReporterProvider = (*Driver)(nil)
)

// New starts a session and opens the agent socket.
func New(ctx context.Context, opts Options) (*Driver, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := observability.Component(opts.Logger, "driver")

	api := opts.API
	if api == nil {
		if opts.APIConfig.Logger == nil {
			opts.APIConfig.Logger = opts.Logger
		}
		client, err := agentapi.New(opts.APIConfig)
		if err != nil {
			return nil, err
		}
		api = client
	}

	manager := opts.Manager
	if manager == nil {
		m, err := agent.NewManager(opts.ManagerConfig, agent.WithLogger(opts.Logger), agent.WithEvents(opts.Events))
		if err != nil {
			return nil, err
		}
		manager = m
	}

	session, err := api.StartSession(ctx, opts.Session)
	if err != nil {
		logger.Error("start development session failed", "error", err)
		return nil, err
	}

	if err := manager.Open(ctx, api.Host(), session.DevSocketPort, session.UUID); err != nil {
		manager.Close()
		logger.Error("agent socket unavailable", "session_id", session.SessionID, "port", session.DevSocketPort, "error", err)
		return nil, err
	}

	d := &Driver{
		api:     api,
		manager: manager,
		session: *session,
		logger:  logger.With("session_id", session.SessionID),
	}
	d.disabled.Store(opts.DisableReports)
	d.gate = report.NewGate(d,
		report.WithScreenshotter(opts.Screenshotter),
		report.WithRecorder(opts.Recorder),
		report.WithPublisher(opts.Events),
		report.WithLogger(opts.Logger),
	)

	d.logger.Info("driver ready", "agent_version", session.Version, "reports_disabled", opts.DisableReports)
	return d, nil
}

// Handled tags err as already reported by a driver command, so adapters do
// not report the same failure a second time. A nil err stays nil.
func Handled(err error, message string) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(err, apperrors.ErrCodeDriverHandled, message)
}

// SubmitStep sends step to the agent over the REST API.
func (d *Driver) SubmitStep(ctx context.Context, step report.StepReport) error {
	if d.quit.Load() {
		return apperrors.New(apperrors.ErrCodeConnectionFailure, "driver has quit")
	}
	if !d.manager.IsOpen() {
		return apperrors.New(apperrors.ErrCodeConnectionFailure, "agent socket is closed").
			WithContext("target", d.manager.Target())
	}
	return d.api.SubmitStep(ctx, step)
}

// Disabled reports whether step reporting is turned off.
func (d *Driver) Disabled() bool {
	return d.disabled.Load()
}

// DisableReports turns step reporting off or back on.
func (d *Driver) DisableReports(disabled bool) {
	if d.disabled.Swap(disabled) != disabled {
		d.logger.Info("step reporting toggled", "disabled", disabled)
	}
}

// Reporter returns the driver's reporting gate.
func (d *Driver) Reporter() *report.Gate {
	return d.gate
}

// SessionID is the agent's id for this development session.
func (d *Driver) SessionID() string {
	return d.session.SessionID
}

// AgentVersion is the version reported by the agent.
func (d *Driver) AgentVersion() string {
	return d.session.Version
}

// Manager returns the connection manager holding the agent socket.
func (d *Driver) Manager() *agent.Manager {
	return d.manager
}

// Quit closes the agent socket. It is safe to call more than once.
func (d *Driver) Quit() {
	d.quitOnce.Do(func() {
		d.quit.Store(true)
		d.manager.Close()
		d.logger.Info("driver quit")
	})
}
