// Package agent owns the TCP socket between the SDK and the local agent
// process. A Manager dials the agent, optionally waits for the agent to
// prove its identity by pushing a validation token, and keeps at most one
// validated socket open until Close.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/steplink/pkg/bus"
	apperrors "github.com/odvcencio/steplink/pkg/errors"
	"github.com/odvcencio/steplink/pkg/observability"
)

// State is the lifecycle state of the agent socket.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateValidating
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateValidating:
		return "validating"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Event is published on steplink.agent.<state> whenever the socket changes state.
type Event struct {
	State  string    `json:"state"`
	Target string    `json:"target,omitempty"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for connection diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = observability.Component(logger, "agent")
		}
	}
}

// WithEvents publishes state changes to p.
func WithEvents(p bus.Publisher) Option {
	return func(m *Manager) {
		m.events = p
	}
}

// Manager holds at most one connection to the agent.
//
// Open calls are serialized. Close only takes the state lock, so it can
// interrupt an Open that is still waiting for the validation token.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	events bus.Publisher

	openMu sync.Mutex

	mu     sync.Mutex
	conn   net.Conn
	state  State
	target string
}

var (
	sharedOnce sync.Once
	shared     *Manager
)

// Shared returns the process-wide Manager, creating it with the default
// config on first use. Prefer NewManager and pass the Manager explicitly.
func Shared() *Manager {
	sharedOnce.Do(func() {
		shared = newManager(DefaultConfig())
	})
	return shared
}

// NewManager creates a Manager. Zero durations in cfg fall back to defaults.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid agent config")
	}
	return newManager(cfg.withDefaults(), opts...), nil
}

func newManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		logger: observability.Component(nil, "agent"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open connects to host:port. When token is non-empty the agent must push
// exactly that token within the validation window before the socket is
// considered open. Opening an already open Manager is a no-op.
//
// Dial failures, I/O errors during validation, cancellation of ctx and a
// concurrent Close all yield CONNECTION_FAILURE. A silent agent or a wrong
// token yields VALIDATION_TIMEOUT.
func (m *Manager) Open(ctx context.Context, host string, port int, token string) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(host) == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "agent host is required")
	}
	if port <= 0 || port > 65535 {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput, "agent port out of range: %d", port)
	}

	m.openMu.Lock()
	defer m.openMu.Unlock()

	m.mu.Lock()
	if m.conn != nil && m.state == StateOpen {
		target := m.target
		m.mu.Unlock()
		m.logger.Debug("open skipped: already open", "target", target)
		return nil
	}
	target := net.JoinHostPort(host, strconv.Itoa(port))
	m.state = StateConnecting
	m.target = target
	m.mu.Unlock()

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "agent.open", trace.WithAttributes(
		observability.AttrAgentAddress.String(target),
		observability.AttrAgentPort.Int(port),
	))
	defer func() {
		observability.HandshakeDuration.WithLabelValues(handshakeResult(err)).Observe(time.Since(start).Seconds())
		observability.EndSpan(span, err)
		if err != nil {
			m.publish(ctx, StateClosed, target, err)
		}
	}()

	logger := m.logger.With("target", target)
	m.publish(ctx, StateConnecting, target, nil)
	logger.Info("connecting")

	dialer := net.Dialer{Timeout: m.cfg.ConnectTimeout}
	conn, dialErr := dialer.DialContext(ctx, "tcp", target)
	if dialErr != nil {
		m.resetIf(nil, StateConnecting)
		logger.Warn("connect failed", "error", dialErr)
		return apperrors.Wrap(dialErr, apperrors.ErrCodeConnectionFailure, "connect to agent").
			WithContext("target", target)
	}

	m.mu.Lock()
	if m.state != StateConnecting {
		m.mu.Unlock()
		_ = conn.Close()
		return apperrors.New(apperrors.ErrCodeConnectionFailure, "agent socket closed while connecting").
			WithContext("target", target)
	}
	m.conn = conn
	if token == "" {
		m.state = StateOpen
		m.mu.Unlock()
		observability.ConnectionOpen.Inc()
		logger.Info("connected without validation", "remote", conn.RemoteAddr().String())
		m.publish(ctx, StateOpen, target, nil)
		return nil
	}
	m.state = StateValidating
	m.mu.Unlock()
	m.publish(ctx, StateValidating, target, nil)

	if err := m.validate(ctx, conn, port, token); err != nil {
		m.resetIf(conn, StateValidating)
		_ = conn.Close()
		logger.Warn("validation failed", "error", err)
		return err
	}

	m.mu.Lock()
	if m.conn != conn || m.state != StateValidating {
		m.mu.Unlock()
		_ = conn.Close()
		return apperrors.New(apperrors.ErrCodeConnectionFailure, "agent socket closed during validation").
			WithContext("target", target)
	}
	m.state = StateOpen
	m.mu.Unlock()

	observability.ConnectionOpen.Inc()
	logger.Info("connected", "remote", conn.RemoteAddr().String(), "elapsed", time.Since(start))
	m.publish(ctx, StateOpen, target, nil)
	return nil
}

type tokenResult struct {
	token string
	err   error
}

// validate waits for the agent's token. The read runs on its own goroutine;
// a past read deadline unblocks it when the window elapses or ctx ends.
func (m *Manager) validate(ctx context.Context, conn net.Conn, port int, want string) error {
	window := m.cfg.ValidationTimeout
	results := make(chan tokenResult, 1)
	go func() {
		got, err := ReadToken(conn)
		results <- tokenResult{token: got, err: err}
	}()

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case res := <-results:
		switch {
		case errors.Is(res.err, ErrInvalidToken):
			return mismatch(port)
		case errors.Is(res.err, io.EOF), errors.Is(res.err, io.ErrUnexpectedEOF):
			return apperrors.New(apperrors.ErrCodeValidationTimeout,
				"agent closed the socket before sending a validation token").
				WithContext("port", port).
				WithRemediation(interferenceHint(port))
		case res.err != nil:
			return apperrors.Wrap(res.err, apperrors.ErrCodeConnectionFailure, "read validation token").
				WithContext("port", port)
		case res.token != want:
			return mismatch(port)
		}
		return nil
	case <-timer.C:
		_ = conn.SetReadDeadline(time.Now())
		<-results
		return apperrors.Newf(apperrors.ErrCodeValidationTimeout,
			"agent did not send a validation token within %s", window).
			WithContext("port", port).
			WithRemediation(interferenceHint(port))
	case <-ctx.Done():
		_ = conn.SetReadDeadline(time.Now())
		<-results
		return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeConnectionFailure, "agent validation interrupted").
			WithContext("port", port)
	}
}

func interferenceHint(port int) string {
	return fmt.Sprintf("check whether local software such as an antivirus, firewall or proxy is interfering with port %d", port)
}

func mismatch(port int) error {
	return apperrors.New(apperrors.ErrCodeValidationTimeout, "unexpected validation token").
		WithContext("port", port).
		WithRemediation("make sure the agent on this port belongs to the current session")
}

// resetIf moves back to Closed if the Manager still holds conn in state.
func (m *Manager) resetIf(conn net.Conn, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == conn && m.state == state {
		m.conn = nil
		m.state = StateClosed
	}
}

// Close releases the socket, including one that is still validating.
// It is safe to call repeatedly; close errors are logged.
func (m *Manager) Close() {
	m.mu.Lock()
	conn := m.conn
	prev := m.state
	target := m.target
	m.conn = nil
	m.state = StateClosed
	m.mu.Unlock()

	logger := m.logger.With("target", target)
	if conn == nil {
		logger.Debug("close skipped: not connected", "state", prev.String())
		return
	}
	if prev == StateOpen {
		observability.ConnectionOpen.Dec()
	}
	if err := conn.Close(); err != nil {
		logger.Warn("close failed", "error", err)
	} else {
		logger.Info("closed", "previous_state", prev.String())
	}
	m.publish(context.Background(), StateClosed, target, nil)
}

// IsOpen reports whether a validated socket is held.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.state == StateOpen
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Target returns the host:port of the last Open attempt.
func (m *Manager) Target() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

func (m *Manager) publish(ctx context.Context, state State, target string, cause error) {
	if m.events == nil {
		return
	}
	evt := Event{State: state.String(), Target: target, Time: time.Now().UTC()}
	if cause != nil {
		evt.Error = cause.Error()
	}
	if err := bus.PublishJSON(ctx, m.events, bus.Subject("agent", state.String()), evt); err != nil {
		m.logger.Debug("publish agent event failed", "state", state.String(), "error", err)
	}
}

func handshakeResult(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(apperrors.GetCode(err)))
}
