// Package agentapi is the HTTP client for the agent's development API:
// it starts a development session (which yields the socket port and the
// validation token for the TCP handshake) and submits step reports.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	apperrors "github.com/odvcencio/steplink/pkg/errors"
	"github.com/odvcencio/steplink/pkg/observability"
	"github.com/odvcencio/steplink/pkg/report"
)

// API paths served by the agent.
const (
	SessionPath = "/api/development/session"
	StepPath    = "/api/development/report/step"
	StatusPath  = "/api/status"
)

const (
	DefaultBaseURL           = "http://localhost:8585"
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 50
	defaultBurst             = 10

	// maxErrorBody caps how much of a failed response is kept in the error.
	maxErrorBody = 4 << 10
)

// Config configures the agent API client.
type Config struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// SessionRequest asks the agent to start a development session.
type SessionRequest struct {
	ProjectName  string         `json:"projectName,omitempty"`
	JobName      string         `json:"jobName,omitempty"`
	Language     string         `json:"language"`
	SDKVersion   string         `json:"sdkVersion,omitempty"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
}

// SessionResponse carries the handshake parameters for the agent socket.
type SessionResponse struct {
	SessionID     string `json:"sessionId"`
	DevSocketPort int    `json:"devSocketPort"`
	UUID          string `json:"uuid"`
	Version       string `json:"version,omitempty"`
}

// Status is the agent's self-reported state.
type Status struct {
	Version    string `json:"version"`
	Registered bool   `json:"registered"`
}

// Client talks to the agent's development API.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "invalid agent url").WithContext("url", raw)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}

	return &Client{
		baseURL:    base,
		token:      cfg.Token,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), defaultBurst),
		logger:     observability.Component(cfg.Logger, "agentapi"),
	}, nil
}

// Host returns the host name of the agent, used to dial its socket.
func (c *Client) Host() string {
	return c.baseURL.Hostname()
}

// StartSession starts a development session.
func (c *Client) StartSession(ctx context.Context, req SessionRequest) (*SessionResponse, error) {
	if req.Language == "" {
		req.Language = "Go"
	}
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, SessionPath, req, &resp); err != nil {
		return nil, err
	}
	if resp.DevSocketPort <= 0 {
		return nil, apperrors.New(apperrors.ErrCodeAgentAPI, "agent returned no development socket port").
			WithContext("session_id", resp.SessionID)
	}
	return &resp, nil
}

// SubmitStep reports step to the agent. A non-2xx response is an AGENT_API error.
func (c *Client) SubmitStep(ctx context.Context, step report.StepReport) error {
	return c.do(ctx, http.MethodPost, StepPath, step.Payload(), nil)
}

// Status queries the agent status endpoint.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.do(ctx, http.MethodGet, StatusPath, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	requestID := uuid.NewString()
	ctx, span := observability.StartSpan(ctx, "agentapi.request", trace.WithAttributes(
		observability.AttrHTTPPath.String(path),
	))
	defer func() { observability.EndSpan(span, err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeAgentAPI, "rate limit wait").WithContext("path", path)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "marshal agent request").WithContext("path", path)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "create agent request").WithContext("path", path)
	}
	c.setHeaders(req, requestID, in != nil)

	logger := c.logger.With("method", method, "path", path, "request_id", requestID)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("agent request failed", "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeConnectionFailure, "agent request failed").
			WithContext("path", path).
			WithRemediation("make sure the agent is running and reachable at " + c.baseURL.String())
	}
	defer resp.Body.Close()
	logger.Debug("agent request done", "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := apperrors.Newf(apperrors.ErrCodeAgentAPI, "agent returned %s", resp.Status).
			WithContext("path", path).
			WithContext("status", resp.StatusCode).
			WithContext("request_id", requestID)
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			apiErr.WithContext("body", msg)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			apiErr.WithRemediation("check the development token (TP_DEV_TOKEN)")
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeAgentAPI, fmt.Sprintf("decode %s response", path))
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, requestID string, hasBody bool) {
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}
