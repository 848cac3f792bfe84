package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/steplink/pkg/agentstub"
	"github.com/odvcencio/steplink/pkg/config"
	apperrors "github.com/odvcencio/steplink/pkg/errors"
	"github.com/odvcencio/steplink/pkg/journal"
)

// capture swaps the package writers and isolates HOME and env.
func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr := stdout, stderr
	stdout, stderr = &out, &errOut
	t.Cleanup(func() { stdout, stderr = prevOut, prevErr })

	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{
		config.EnvDevToken, config.EnvAgentURL, config.EnvProjectName, config.EnvJobName,
		config.EnvReportsDisabled, config.EnvLogLevel, config.EnvJournal, config.EnvBusURL,
		config.EnvDataProviderPath,
	} {
		t.Setenv(key, "")
	}
	return &out, &errOut
}

func writeConfig(t *testing.T, agentURL, journalPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steplink.yaml")
	content := fmt.Sprintf(`agent:
  url: %s
  token: dev-token
  validation_timeout: 2s
reporting:
  journal_path: %s
logging:
  level: error
project:
  name: CLI
`, agentURL, journalPath)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func startStub(t *testing.T, cfg agentstub.Config) *agentstub.Agent {
	t.Helper()
	stub, err := agentstub.Start(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stub.Close() })
	return stub
}

func TestVersion(t *testing.T) {
	out, _ := capture(t)
	assert.Equal(t, exitOK, run(context.Background(), []string{"version"}))
	assert.Contains(t, out.String(), "steplink "+version)
}

func TestUnknownCommand(t *testing.T) {
	_, errOut := capture(t)
	assert.Equal(t, exitUsage, run(context.Background(), []string{"frobnicate"}))
	assert.Contains(t, errOut.String(), `unknown command "frobnicate"`)
}

func TestNoArgsPrintsHelp(t *testing.T) {
	_, errOut := capture(t)
	assert.Equal(t, exitUsage, run(context.Background(), nil))
	assert.Contains(t, errOut.String(), "Commands:")
}

func TestCommandHelpExitsZero(t *testing.T) {
	capture(t)
	assert.Equal(t, exitOK, run(context.Background(), []string{"probe", "--help"}))
}

func TestProbeRequiresPort(t *testing.T) {
	_, errOut := capture(t)
	assert.Equal(t, exitUsage, run(context.Background(), []string{"probe"}))
	assert.Contains(t, errOut.String(), "--port is required")
}

func TestProbeValidatesSocket(t *testing.T) {
	out, _ := capture(t)
	stub := startStub(t, agentstub.Config{Token: "probe-token"})

	code := run(context.Background(), []string{
		"probe", "--host", "127.0.0.1", "--port", fmt.Sprint(stub.SocketPort()), "--token", "probe-token",
	})
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "open 127.0.0.1:")
}

func TestProbeSilentAgentExitsWithConnectionCode(t *testing.T) {
	_, errOut := capture(t)
	stub := startStub(t, agentstub.Config{Token: "probe-token", SilentSocket: true})

	code := run(context.Background(), []string{
		"probe", "--host", "127.0.0.1", "--port", fmt.Sprint(stub.SocketPort()),
		"--token", "probe-token", "--validation-timeout", "200ms",
	})
	assert.Equal(t, exitConnection, code)
	assert.Contains(t, errOut.String(), "VALIDATION_TIMEOUT")
}

func TestReportSubmitsStep(t *testing.T) {
	out, _ := capture(t)
	stub := startStub(t, agentstub.Config{Token: "sock-token", DevToken: "dev-token"})
	cfgPath := writeConfig(t, stub.URL(), filepath.Join(t.TempDir(), "journal.db"))

	code := run(context.Background(), []string{
		"report", "--config", cfgPath, "-d", "Open login page", "-m", "ok",
	})
	require.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "submitted")

	steps := stub.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, "Open login page", steps[0].Description())
	assert.True(t, steps[0].Passed())
}

func TestReportDisabledIsJournaled(t *testing.T) {
	out, _ := capture(t)
	stub := startStub(t, agentstub.Config{Token: "sock-token", DevToken: "dev-token"})
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	cfgPath := writeConfig(t, stub.URL(), journalPath)

	code := run(context.Background(), []string{
		"report", "--config", cfgPath, "-d", "Checkout", "--failed", "--disable-reports",
	})
	require.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "disabled")
	assert.Empty(t, stub.Steps())

	store, err := journal.Open(journalPath)
	require.NoError(t, err)
	defer store.Close()
	entries, err := store.List(context.Background(), journal.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(apperrors.ErrCodeReportingDisabled), entries[0].Reason)
	assert.Equal(t, stub.SessionID(), entries[0].SessionID)

	out.Reset()
	code = run(context.Background(), []string{"journal", "--path", journalPath})
	require.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "Checkout")
	assert.Contains(t, out.String(), "REPORTING_DISABLED")
}

func TestReportRejectedStepExitsWithConnectionCode(t *testing.T) {
	capture(t)
	stub := startStub(t, agentstub.Config{Token: "sock-token", DevToken: "dev-token", RejectSteps: true})
	cfgPath := writeConfig(t, stub.URL(), filepath.Join(t.TempDir(), "journal.db"))

	code := run(context.Background(), []string{"report", "--config", cfgPath, "-d", "Pay"})
	assert.Equal(t, exitConnection, code)
}

func TestJournalEmpty(t *testing.T) {
	out, _ := capture(t)
	code := run(context.Background(), []string{"journal", "--path", filepath.Join(t.TempDir(), "j.db")})
	require.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "no journaled steps")
}

func TestConfigRedactsToken(t *testing.T) {
	out, _ := capture(t)
	cfgPath := writeConfig(t, "http://127.0.0.1:8585", "/tmp/j.db")

	require.Equal(t, exitOK, run(context.Background(), []string{"config", "--config", cfgPath}))
	assert.Contains(t, out.String(), redacted)
	assert.NotContains(t, out.String(), "dev-token")

	out.Reset()
	require.Equal(t, exitOK, run(context.Background(), []string{"config", "--config", cfgPath, "--show-secrets"}))
	assert.Contains(t, out.String(), "dev-token")
}

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"plain", errors.New("boom"), exitUsage},
		{"connection", apperrors.New(apperrors.ErrCodeConnectionFailure, "down"), exitConnection},
		{"timeout", apperrors.New(apperrors.ErrCodeValidationTimeout, "slow"), exitConnection},
		{"config", apperrors.New(apperrors.ErrCodeConfigInvalid, "bad"), exitUsage},
		{"explicit", withExitCode(errors.New("x"), 7), 7},
		{"explicit zero", exitError{err: errors.New("x")}, exitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeForError(tt.err))
		})
	}
}

func TestProbeUsesConfiguredValidationTimeout(t *testing.T) {
	_, errOut := capture(t)
	stub := startStub(t, agentstub.Config{Token: "probe-token", SilentSocket: true})
	cfgPath := filepath.Join(t.TempDir(), "steplink.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("agent:\n  validation_timeout: 150ms\nlogging:\n  level: error\n"), 0o644))

	start := time.Now()
	code := run(context.Background(), []string{
		"probe", "--config", cfgPath, "--host", "127.0.0.1", "--port", fmt.Sprint(stub.SocketPort()), "--token", "probe-token",
	})
	elapsed := time.Since(start)

	assert.Equal(t, exitConnection, code)
	assert.Contains(t, errOut.String(), "within 150ms")
	assert.Less(t, elapsed, 5*time.Second)

	errOut.Reset()
	code = run(context.Background(), []string{
		"probe", "--config", cfgPath, "--host", "127.0.0.1", "--port", fmt.Sprint(stub.SocketPort()),
		"--token", "probe-token", "--validation-timeout", "100ms",
	})
	assert.Equal(t, exitConnection, code)
	assert.Contains(t, errOut.String(), "within 100ms")
}
