// Package agentstub runs a fake agent on loopback: the development REST API
// and the TCP socket that pushes the validation token. It backs driver tests
// and the `steplink fake-agent` command.
package agentstub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/steplink/pkg/agent"
	"github.com/odvcencio/steplink/pkg/agentapi"
	"github.com/odvcencio/steplink/pkg/observability"
	"github.com/odvcencio/steplink/pkg/report"
)

// Config configures the fake agent.
type Config struct {
	// Token is pushed on every accepted socket and returned as the session
	// uuid. Empty means no token is sent (older agents).
	Token string
	// TokenDelay is how long the socket waits before pushing Token.
	TokenDelay time.Duration
	// SilentSocket accepts sockets but never pushes the token.
	SilentSocket bool
	// DevToken, when set, must match the Authorization header.
	DevToken string
	// RejectSteps answers every step submission with 503.
	RejectSteps bool
	// Version is reported by the session and status endpoints.
	Version string
	// HTTPAddr and SocketAddr default to 127.0.0.1:0.
	HTTPAddr   string
	SocketAddr string
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// Agent is a running fake agent.
type Agent struct {
	cfg       Config
	sessionID string
	logger    *slog.Logger

	httpLn net.Listener
	sockLn net.Listener
	server *http.Server

	group  *errgroup.Group
	cancel context.CancelFunc

	accepted atomic.Int32
	sessions atomic.Int32

	mu    sync.Mutex
	steps []report.Payload
	conns []net.Conn
}

// Start listens on both addresses and serves until ctx ends or Close is called.
func Start(ctx context.Context, cfg Config) (*Agent, error) {
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = "127.0.0.1:0"
	}
	if cfg.SocketAddr == "" {
		cfg.SocketAddr = "127.0.0.1:0"
	}
	if cfg.Version == "" {
		cfg.Version = "stub"
	}

	httpLn, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen http: %w", err)
	}
	sockLn, err := net.Listen("tcp", cfg.SocketAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, fmt.Errorf("listen socket: %w", err)
	}

	a := &Agent{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		logger:    observability.Component(cfg.Logger, "agentstub"),
		httpLn:    httpLn,
		sockLn:    sockLn,
	}
	a.server = &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	a.group = g

	g.Go(func() error {
		if err := a.server.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.acceptLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = a.sockLn.Close()
		a.closeConns()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	a.logger.Info("fake agent listening", "url", a.URL(), "socket_port", a.SocketPort())
	return a, nil
}

func (a *Agent) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if a.cfg.MetricsHandler != nil {
		r.Handle("/metrics", a.cfg.MetricsHandler)
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", a.handleStatus)
		r.Group(func(r chi.Router) {
			r.Use(a.authMiddleware)
			r.Post("/development/session", a.handleSession)
			r.Post("/development/report/step", a.handleStep)
		})
	})
	return r
}

func (a *Agent) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.DevToken != "" && r.Header.Get("Authorization") != a.cfg.DevToken {
			respondError(w, http.StatusUnauthorized, errors.New("invalid development token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, agentapi.Status{Version: a.cfg.Version, Registered: true})
}

func (a *Agent) handleSession(w http.ResponseWriter, r *http.Request) {
	var req agentapi.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("decode session request: %w", err))
		return
	}
	a.sessions.Add(1)
	a.logger.Info("session started", "project", req.ProjectName, "job", req.JobName, "language", req.Language)
	respondJSON(w, http.StatusOK, agentapi.SessionResponse{
		SessionID:     a.sessionID,
		DevSocketPort: a.SocketPort(),
		UUID:          a.cfg.Token,
		Version:       a.cfg.Version,
	})
}

func (a *Agent) handleStep(w http.ResponseWriter, r *http.Request) {
	var step report.Payload
	if err := json.NewDecoder(r.Body).Decode(&step); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("decode step: %w", err))
		return
	}
	if a.cfg.RejectSteps {
		respondError(w, http.StatusServiceUnavailable, errors.New("step reporting unavailable"))
		return
	}
	a.mu.Lock()
	a.steps = append(a.steps, step)
	a.mu.Unlock()
	a.logger.Info("step received", "description", step.Description, "passed", step.Passed, "screenshot", len(step.Screenshot) > 0)
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) acceptLoop(ctx context.Context) error {
	for {
		conn, err := a.sockLn.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept socket: %w", err)
		}
		if !a.track(ctx, conn) {
			return nil
		}
		a.accepted.Add(1)
		go a.pushToken(ctx, conn)
	}
}

// track registers conn for closeConns. Once ctx is done closeConns may
// already have run, so conn is closed instead.
func (a *Agent) track(ctx context.Context, conn net.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ctx.Err() != nil {
		_ = conn.Close()
		return false
	}
	a.conns = append(a.conns, conn)
	return true
}

func (a *Agent) pushToken(ctx context.Context, conn net.Conn) {
	if a.cfg.Token == "" || a.cfg.SilentSocket {
		return
	}
	if a.cfg.TokenDelay > 0 {
		timer := time.NewTimer(a.cfg.TokenDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
	}
	if err := agent.WriteToken(conn, a.cfg.Token); err != nil {
		a.logger.Debug("push token failed", "error", err)
	}
}

func (a *Agent) closeConns() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, conn := range a.conns {
		_ = conn.Close()
	}
	a.conns = nil
}

// URL is the base URL of the REST API.
func (a *Agent) URL() string {
	return "http://" + a.httpLn.Addr().String()
}

// SocketPort is the port of the handshake socket.
func (a *Agent) SocketPort() int {
	return a.sockLn.Addr().(*net.TCPAddr).Port
}

// SessionID is the id handed out by the session endpoint.
func (a *Agent) SessionID() string {
	return a.sessionID
}

// Steps returns the steps received so far.
func (a *Agent) Steps() []report.StepReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]report.StepReport, 0, len(a.steps))
	for _, p := range a.steps {
		out = append(out, report.FromPayload(p))
	}
	return out
}

// Accepted is the number of sockets accepted.
func (a *Agent) Accepted() int {
	return int(a.accepted.Load())
}

// Sessions is the number of sessions started.
func (a *Agent) Sessions() int {
	return int(a.sessions.Load())
}

// Wait blocks until the agent stops and returns the first serving error.
func (a *Agent) Wait() error {
	return a.group.Wait()
}

// Close stops the agent and waits for it to shut down.
func (a *Agent) Close() error {
	a.cancel()
	return a.group.Wait()
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
