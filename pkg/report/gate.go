// Package report implements the reporting gate every test adapter calls
// through. The gate checks the owning channel's disabled flag, optionally
// attaches a screenshot, submits the step and turns every failure into a
// false return so that reporting can never fail a test.
package report

//go:generate mockgen -package=report -destination=mock_report_test.go github.com/odvcencio/steplink/pkg/report Channel,Screenshotter,Recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/steplink/pkg/bus"
	apperrors "github.com/odvcencio/steplink/pkg/errors"
	"github.com/odvcencio/steplink/pkg/observability"
)

// Channel submits steps to the agent. It is owned by the driver and shared
// by every adapter attached to it.
type Channel interface {
	SubmitStep(ctx context.Context, step StepReport) error
	Disabled() bool
}

// Screenshotter captures the current screen as PNG bytes.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Recorder keeps steps that were not delivered to the agent.
type Recorder interface {
	RecordStep(ctx context.Context, step StepReport, reason string) error
}

// ReasonDisabled is the recorder reason for steps skipped while reporting
// is disabled. Failed submissions are recorded under the error's code.
var ReasonDisabled = string(apperrors.ErrCodeReportingDisabled)

// StepEvent is published on steplink.step.<outcome> for every step.
type StepEvent struct {
	StepID      string    `json:"step_id"`
	Description string    `json:"description"`
	Passed      bool      `json:"passed"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	Time        time.Time `json:"time"`
}

// Gate decides per step whether and how to submit it.
type Gate struct {
	channel  Channel
	shots    Screenshotter
	recorder Recorder
	events   bus.Publisher
	logger   *slog.Logger
}

// GateOption customizes a Gate.
type GateOption func(*Gate)

// WithScreenshotter enables CaptureScreenshot for steps reported through the gate.
func WithScreenshotter(s Screenshotter) GateOption {
	return func(g *Gate) { g.shots = s }
}

// WithRecorder keeps skipped and failed steps locally.
func WithRecorder(r Recorder) GateOption {
	return func(g *Gate) { g.recorder = r }
}

// WithPublisher publishes a StepEvent for every step.
func WithPublisher(p bus.Publisher) GateOption {
	return func(g *Gate) { g.events = p }
}

// WithLogger sets the gate's logger.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = observability.Component(logger, "report")
		}
	}
}

// NewGate wraps channel. The gate only reads from the channel.
func NewGate(channel Channel, opts ...GateOption) *Gate {
	g := &Gate{
		channel: channel,
		logger:  observability.Component(nil, "report"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type stepOptions struct {
	screenshot bool
}

// StepOption customizes a single ReportStep call.
type StepOption func(*stepOptions)

// CaptureScreenshot attaches a screenshot to the step before submission.
func CaptureScreenshot() StepOption {
	return func(o *stepOptions) { o.screenshot = true }
}

// Disabled reports whether the owning channel has reporting turned off.
func (g *Gate) Disabled() bool {
	if g == nil || g.channel == nil {
		return true
	}
	return g.channel.Disabled()
}

// ReportStep submits step unless reporting is disabled. It returns true when
// the agent accepted the step or when reporting is disabled, and false on
// any failure. It never panics.
func (g *Gate) ReportStep(ctx context.Context, step StepReport, opts ...StepOption) (accepted bool) {
	if g == nil || g.channel == nil {
		slog.Default().Warn("step report dropped: no reporting channel", "step_id", step.ID())
		observability.StepsTotal.WithLabelValues(observability.OutcomeDropped).Inc()
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var so stepOptions
	for _, opt := range opts {
		opt(&so)
	}

	ctx, span := observability.StartSpan(ctx, "report.step", trace.WithAttributes(
		observability.AttrStepID.String(step.ID()),
		observability.AttrStepPassed.Bool(step.Passed()),
	))

	outcome := observability.OutcomeDropped
	var failure error
	defer func() {
		if r := recover(); r != nil {
			accepted = false
			outcome = observability.OutcomeDropped
			failure = fmt.Errorf("step report panicked: %v", r)
			g.logger.Error("step report panicked", "step_id", step.ID(), "panic", r)
		}
		span.SetAttributes(observability.AttrStepOutcome.String(outcome))
		observability.EndSpan(span, failure)
		observability.StepsTotal.WithLabelValues(outcome).Inc()
		g.publish(ctx, step, outcome, failure)
	}()

	logger := g.logger.With("step_id", step.ID(), "passed", step.Passed())

	if g.channel.Disabled() {
		outcome = observability.OutcomeDisabled
		logger.Info("reporting disabled, step kept locally", "description", step.Description())
		g.record(ctx, step, ReasonDisabled)
		return true
	}

	if so.screenshot {
		step = g.attachScreenshot(ctx, step)
	}

	if err := g.channel.SubmitStep(ctx, step); err != nil {
		outcome = observability.OutcomeRejected
		failure = err
		logger.Warn("step report failed", "error", err)
		g.record(ctx, step, string(apperrors.GetCode(err)))
		return false
	}

	outcome = observability.OutcomeSubmitted
	logger.Debug("step reported")
	return true
}

func (g *Gate) attachScreenshot(ctx context.Context, step StepReport) StepReport {
	if g.shots == nil {
		g.logger.Debug("screenshot requested but no screenshotter configured", "step_id", step.ID())
		return step
	}
	png, err := g.shots.Screenshot(ctx)
	if err != nil {
		g.logger.Warn("screenshot capture failed; reporting step without it", "step_id", step.ID(), "error", err)
		return step
	}
	return step.WithScreenshot(png)
}

func (g *Gate) record(ctx context.Context, step StepReport, reason string) {
	if g.recorder == nil {
		return
	}
	if err := g.recorder.RecordStep(ctx, step, reason); err != nil {
		g.logger.Warn("record step failed", "step_id", step.ID(), "reason", reason, "error", err)
	}
}

func (g *Gate) publish(ctx context.Context, step StepReport, outcome string, failure error) {
	if g.events == nil {
		return
	}
	evt := StepEvent{
		StepID:      step.ID(),
		Description: step.Description(),
		Passed:      step.Passed(),
		Outcome:     outcome,
		Time:        time.Now().UTC(),
	}
	if failure != nil {
		evt.Error = failure.Error()
	}
	if err := bus.PublishJSON(ctx, g.events, bus.Subject("step", outcome), evt); err != nil {
		g.logger.Debug("publish step event failed", "outcome", outcome, "error", err)
	}
}
