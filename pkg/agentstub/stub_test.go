package agentstub

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/steplink/pkg/agent"
	"github.com/odvcencio/steplink/pkg/agentapi"
	apperrors "github.com/odvcencio/steplink/pkg/errors"
	"github.com/odvcencio/steplink/pkg/report"
)

func startStub(t *testing.T, cfg Config) *Agent {
	t.Helper()
	stub, err := Start(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stub.Close() })
	return stub
}

func TestSessionAndHandshake(t *testing.T) {
	stub := startStub(t, Config{Token: "abc-123", TokenDelay: 50 * time.Millisecond, DevToken: "dev"})

	client, err := agentapi.New(agentapi.Config{BaseURL: stub.URL(), Token: "dev"})
	require.NoError(t, err)

	session, err := client.StartSession(context.Background(), agentapi.SessionRequest{ProjectName: "Shop"})
	require.NoError(t, err)
	assert.Equal(t, stub.SocketPort(), session.DevSocketPort)
	assert.Equal(t, "abc-123", session.UUID)
	assert.Equal(t, stub.SessionID(), session.SessionID)
	assert.Equal(t, 1, stub.Sessions())

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(session.DevSocketPort)))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	token, err := agent.ReadToken(conn)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", token)
	assert.Equal(t, 1, stub.Accepted())
}

func TestRejectsWrongDevToken(t *testing.T) {
	stub := startStub(t, Config{DevToken: "dev"})

	client, err := agentapi.New(agentapi.Config{BaseURL: stub.URL(), Token: "other"})
	require.NoError(t, err)

	_, err = client.StartSession(context.Background(), agentapi.SessionRequest{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAgentAPI))
}

func TestRecordsSteps(t *testing.T) {
	stub := startStub(t, Config{})

	client, err := agentapi.New(agentapi.Config{BaseURL: stub.URL()})
	require.NoError(t, err)

	step := report.NewStepReport("add to cart", "", true)
	require.NoError(t, client.SubmitStep(context.Background(), step))

	steps := stub.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, step.ID(), steps[0].ID())
	assert.Equal(t, "add to cart", steps[0].Description())
}

func TestRejectSteps(t *testing.T) {
	stub := startStub(t, Config{RejectSteps: true})

	client, err := agentapi.New(agentapi.Config{BaseURL: stub.URL()})
	require.NoError(t, err)

	err = client.SubmitStep(context.Background(), report.NewStepReport("x", "", true))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAgentAPI))
	assert.Empty(t, stub.Steps())
}

func TestMetricsHandlerMounted(t *testing.T) {
	stub := startStub(t, Config{MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "steplink_up 1\n")
	})})

	resp, err := http.Get(stub.URL() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "steplink_up")
}

func TestCloseStopsListeners(t *testing.T) {
	stub, err := Start(context.Background(), Config{})
	require.NoError(t, err)
	port := stub.SocketPort()

	require.NoError(t, stub.Close())
	require.NoError(t, stub.Close())

	_, err = net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestTrackClosesConnAfterShutdown(t *testing.T) {
	a := &Agent{}
	ctx, cancel := context.WithCancel(context.Background())

	live, livePeer := net.Pipe()
	defer livePeer.Close()
	require.True(t, a.track(ctx, live))

	cancel()
	late, latePeer := net.Pipe()
	defer latePeer.Close()
	assert.False(t, a.track(ctx, late))

	_ = latePeer.SetReadDeadline(time.Now().Add(time.Second))
	_, err := latePeer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "a connection accepted after shutdown must be closed")

	a.closeConns()
	_ = livePeer.SetReadDeadline(time.Now().Add(time.Second))
	_, err = livePeer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}
