// Package adapter is the common logic behind test-framework listeners:
// after a unit completes it decides whether the failure is reportable,
// turns it into a failed step and pushes it through the reporting gate.
package adapter

import (
	"context"
	"log/slog"
	"sync"

	apperrors "github.com/odvcencio/steplink/pkg/errors"
	"github.com/odvcencio/steplink/pkg/observability"
	"github.com/odvcencio/steplink/pkg/report"
)

// UnitState is the lifecycle of one test unit.
type UnitState int

const (
	StateIdle UnitState = iota
	StateExecuting
	StatePassed
	StateFailed
	StateSkipped
	StateReportSubmitted
)

func (s UnitState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StatePassed:
		return "passed"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	case StateReportSubmitted:
		return "report_submitted"
	default:
		return "unknown"
	}
}

// Reporter submits steps. *report.Gate implements it.
type Reporter interface {
	ReportStep(ctx context.Context, step report.StepReport, opts ...report.StepOption) bool
}

// ReporterProvider is implemented by fixtures that own a reporting gate,
// such as the driver.
type ReporterProvider interface {
	Reporter() *report.Gate
}

// Outcome describes a completed unit.
type Outcome struct {
	Name string
	Err  error
}

// Result is the terminal state reached for a unit.
type Result struct {
	State UnitState
	// Reason is set when State is StateSkipped.
	Reason string
	// Accepted reports whether the gate accepted the step.
	Accepted bool
}

// Option customizes a Listener.
type Option func(*Listener)

// WithLogger sets the listener's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = observability.Component(logger, "adapter")
		}
	}
}

// Listener applies the reporting protocol to completed units. It is safe
// for concurrent use.
type Listener struct {
	reporter Reporter
	logger   *slog.Logger
}

// NewListener creates a listener reporting through reporter. A nil
// reporter makes every failure a logged skip.
func NewListener(reporter Reporter, opts ...Option) *Listener {
	l := &Listener{
		reporter: reporter,
		logger:   observability.Component(nil, "adapter"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ForFixture resolves the fixture's gate once, at construction.
func ForFixture(fixture ReporterProvider, opts ...Option) *Listener {
	var reporter Reporter
	if fixture != nil {
		if gate := fixture.Reporter(); gate != nil {
			reporter = gate
		}
	}
	return NewListener(reporter, opts...)
}

// Begin marks a unit as executing.
func (l *Listener) Begin(name string) *Unit {
	return &Unit{listener: l, name: name, state: StateExecuting, history: []UnitState{StateExecuting}}
}

// AfterUnit applies the protocol to an already completed unit.
func (l *Listener) AfterUnit(ctx context.Context, outcome Outcome) Result {
	return l.Begin(outcome.Name).End(ctx, outcome.Err)
}

// Run executes fn as a unit and returns its error unchanged.
func (l *Listener) Run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	unit := l.Begin(name)
	err := fn(ctx)
	unit.End(ctx, err)
	return err
}

func (l *Listener) complete(ctx context.Context, name string, err error) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := l.logger.With("unit", name)

	if err == nil {
		return l.finish(Result{State: StatePassed})
	}

	decision := Classify(err)
	if !decision.Report {
		logger.Debug("failure not reported",
			"reason", decision.Reason,
			"code", string(apperrors.ErrCodeUnsupportedType),
			"error", err)
		return l.finish(Result{State: StateSkipped, Reason: decision.Reason})
	}

	if l.reporter == nil {
		logger.Warn("failure not reported: no reporting gate for this fixture", "error", err)
		return l.finish(Result{State: StateSkipped, Reason: ReasonNoReporter})
	}

	accepted := l.reporter.ReportStep(ctx, Describe(err))
	if !accepted {
		logger.Warn("failure report was not accepted", "error", err)
	}
	return l.finish(Result{State: StateReportSubmitted, Accepted: accepted})
}

func (l *Listener) finish(res Result) Result {
	observability.AdapterUnits.WithLabelValues(res.State.String()).Inc()
	return res
}

// Unit tracks one test unit: Idle -> Executing -> {Passed, Failed} ->
// {Skipped, ReportSubmitted} -> Idle.
type Unit struct {
	listener *Listener
	name     string

	mu      sync.Mutex
	state   UnitState
	history []UnitState
	result  *Result
	done    chan struct{}
}

// State returns the unit's current state. It does not wait for a report in
// flight.
func (u *Unit) State() UnitState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// History returns every state the unit has entered, oldest first.
func (u *Unit) History() []UnitState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]UnitState(nil), u.history...)
}

func (u *Unit) setState(state UnitState) {
	u.state = state
	u.history = append(u.history, state)
}

// End completes the unit. Calling End again, including concurrently, waits
// for and returns the first result.
func (u *Unit) End(ctx context.Context, err error) Result {
	u.mu.Lock()
	if u.done != nil {
		done := u.done
		u.mu.Unlock()
		<-done
		u.mu.Lock()
		defer u.mu.Unlock()
		return *u.result
	}
	u.done = make(chan struct{})
	if err != nil {
		u.setState(StateFailed)
	} else {
		u.setState(StatePassed)
	}
	u.mu.Unlock()

	res := u.listener.complete(ctx, u.name, err)

	u.mu.Lock()
	if res.State != StatePassed {
		u.setState(res.State)
	}
	u.setState(StateIdle)
	u.result = &res
	close(u.done)
	u.mu.Unlock()
	return res
}
