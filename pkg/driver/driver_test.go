package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/steplink/pkg/adapter"
	"github.com/odvcencio/steplink/pkg/agent"
	"github.com/odvcencio/steplink/pkg/agentapi"
	"github.com/odvcencio/steplink/pkg/agentstub"
	apperrors "github.com/odvcencio/steplink/pkg/errors"
	"github.com/odvcencio/steplink/pkg/journal"
	"github.com/odvcencio/steplink/pkg/report"
)

func startStub(t *testing.T, cfg agentstub.Config) *agentstub.Agent {
	t.Helper()
	stub, err := agentstub.Start(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stub.Close() })
	return stub
}

func newDriver(t *testing.T, stub *agentstub.Agent, mutate func(*Options)) (*Driver, error) {
	t.Helper()
	opts := Options{
		APIConfig: agentapi.Config{BaseURL: stub.URL(), Token: "dev"},
		Session:   agentapi.SessionRequest{ProjectName: "Shop", JobName: "Checkout"},
	}
	if mutate != nil {
		mutate(&opts)
	}
	d, err := New(context.Background(), opts)
	if d != nil {
		t.Cleanup(d.Quit)
	}
	return d, err
}

func TestNewOpensValidatedSocket(t *testing.T) {
	stub := startStub(t, agentstub.Config{Token: "abc-123", TokenDelay: 50 * time.Millisecond, DevToken: "dev"})

	d, err := newDriver(t, stub, nil)
	require.NoError(t, err)

	assert.Equal(t, stub.SessionID(), d.SessionID())
	assert.True(t, d.Manager().IsOpen())
	assert.Equal(t, 1, stub.Accepted())
	assert.False(t, d.Disabled())
}

func TestReportStepReachesAgent(t *testing.T) {
	stub := startStub(t, agentstub.Config{Token: "abc-123"})

	d, err := newDriver(t, stub, nil)
	require.NoError(t, err)

	step := report.NewStepReport("open cart", "", true)
	require.True(t, d.Reporter().ReportStep(context.Background(), step))

	steps := stub.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, step.ID(), steps[0].ID())
}

func TestNewFailsWhenAgentNeverValidates(t *testing.T) {
	stub := startStub(t, agentstub.Config{Token: "abc-123", SilentSocket: true})
	manager, err := agent.NewManager(agent.Config{ValidationTimeout: 200 * time.Millisecond})
	require.NoError(t, err)

	d, err := newDriver(t, stub, func(o *Options) { o.Manager = manager })

	require.Error(t, err)
	assert.Nil(t, d)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationTimeout), "got %v", err)
	assert.False(t, manager.IsOpen())
}

func TestNewFailsWhenAgentIsDown(t *testing.T) {
	stub, err := agentstub.Start(context.Background(), agentstub.Config{})
	require.NoError(t, err)
	url := stub.URL()
	require.NoError(t, stub.Close())

	_, err = New(context.Background(), Options{APIConfig: agentapi.Config{BaseURL: url}})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConnectionFailure), "got %v", err)
}

func TestDisabledReportsStayLocal(t *testing.T) {
	stub := startStub(t, agentstub.Config{Token: "abc-123"})
	store, err := journal.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	d, err := newDriver(t, stub, func(o *Options) {
		o.DisableReports = true
		o.Recorder = store
	})
	require.NoError(t, err)

	assert.True(t, d.Reporter().ReportStep(context.Background(), report.NewStepReport("hidden", "", true)))
	assert.Empty(t, stub.Steps())

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d.DisableReports(false)
	assert.True(t, d.Reporter().ReportStep(context.Background(), report.NewStepReport("visible", "", true)))
	assert.Len(t, stub.Steps(), 1)
}

func TestRejectedStepIsJournaled(t *testing.T) {
	stub := startStub(t, agentstub.Config{Token: "abc-123", RejectSteps: true})
	store, err := journal.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	d, err := newDriver(t, stub, func(o *Options) { o.Recorder = store })
	require.NoError(t, err)

	assert.False(t, d.Reporter().ReportStep(context.Background(), report.NewStepReport("checkout", "", false)))

	entries, err := store.List(context.Background(), journal.ListOptions{Reason: string(apperrors.ErrCodeAgentAPI)})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestQuitClosesSocket(t *testing.T) {
	stub := startStub(t, agentstub.Config{Token: "abc-123"})

	d, err := newDriver(t, stub, nil)
	require.NoError(t, err)

	d.Quit()
	d.Quit()

	assert.False(t, d.Manager().IsOpen())
	err = d.SubmitStep(context.Background(), report.NewStepReport("late", "", true))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConnectionFailure))
	assert.False(t, d.Reporter().ReportStep(context.Background(), report.NewStepReport("late", "", true)))
}

func TestAdapterReportsThroughDriver(t *testing.T) {
	stub := startStub(t, agentstub.Config{Token: "abc-123"})

	d, err := newDriver(t, stub, nil)
	require.NoError(t, err)

	listener := adapter.ForFixture(d)
	res := listener.AfterUnit(context.Background(), adapter.Outcome{Name: "TestCheckout", Err: errors.New("total mismatch")})

	assert.Equal(t, adapter.StateReportSubmitted, res.State)
	assert.True(t, res.Accepted)
	steps := stub.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, "total mismatch", steps[0].Description())
	assert.False(t, steps[0].Passed())
}

func TestHandledFailureIsNotReportedTwice(t *testing.T) {
	stub := startStub(t, agentstub.Config{Token: "abc-123"})

	d, err := newDriver(t, stub, nil)
	require.NoError(t, err)

	cause := errors.New("element #pay not found")
	handled := Handled(cause, "click pay")
	assert.True(t, apperrors.IsCode(handled, apperrors.ErrCodeDriverHandled))
	assert.ErrorIs(t, handled, cause)
	assert.NoError(t, Handled(nil, "click pay"))

	res := adapter.ForFixture(d).AfterUnit(context.Background(), adapter.Outcome{Name: "TestPay", Err: handled})

	assert.Equal(t, adapter.StateSkipped, res.State)
	assert.Equal(t, adapter.ReasonDriverHandled, res.Reason)
	assert.Empty(t, stub.Steps())
}
