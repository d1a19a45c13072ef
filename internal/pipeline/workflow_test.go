package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/sells-group/sightings/internal/model"
	"github.com/sells-group/sightings/internal/narrative"
	"github.com/sells-group/sightings/internal/resilience"
	"github.com/sells-group/sightings/pkg/weather"
)

func newWorkflowEnv(t *testing.T, f *fixture) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(EnrichReportWorkflow)
	env.RegisterActivity(f.acts)
	return env
}

// happyPath stubs every dependency for a successful run.
func (f *fixture) happyPath() {
	f.numbers.On("ReportNumber", mock.Anything, 1.0, 2.0).Return("RPT-000001", nil)
	f.weather.On("Visibility", mock.Anything, 1.0, 2.0).Return(8000, nil)
	f.vessels.On("Nearby", mock.Anything, mock.Anything).Return([]model.Vessel{
		{Name: "EVER GIVEN", MMSI: "353136000", DistanceKm: 1.2},
	}, nil)
	f.trust.On("TrustScore", mock.Anything, "acct-1").Return(0.0, false, nil)
	f.trust.On("RecordRequestMetadata", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.narrative.On("Generate", mock.Anything, mock.Anything).Return("A container ship was sighted.", nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
}

func workflowResult(t *testing.T, env *testsuite.TestWorkflowEnvironment) *model.EnrichedReport {
	t.Helper()
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out model.EnrichedReport
	require.NoError(t, env.GetWorkflowResult(&out))
	return &out
}

func activityErrorType(err error) string {
	var actErr *temporal.ActivityError
	if !errors.As(err, &actErr) {
		return ""
	}
	return ErrorType(actErr.Unwrap())
}

func TestWorkflowRoundTrip(t *testing.T) {
	f := newFixture()
	f.happyPath()
	env := newWorkflowEnv(t, f)

	env.ExecuteWorkflow(EnrichReportWorkflow, EnrichRequest{
		JobID:    "sighting-1",
		Report:   testReport(),
		Metadata: &model.RequestMetadata{IP: "10.0.0.1", UserAgent: "test"},
	})

	out := workflowResult(t, env)
	require.NotNil(t, out.ReportNumber)
	assert.Equal(t, "RPT-000001", *out.ReportNumber)
	require.NotNil(t, out.Visibility)
	assert.Equal(t, 8000, *out.Visibility)
	require.Len(t, out.NearbyVessels, 1)
	assert.Equal(t, "EVER GIVEN", out.NearbyVessels[0].Name)
	require.NotNil(t, out.TrustScore)
	assert.InDelta(t, 0.7, *out.TrustScore, 0.0001)
	require.NotNil(t, out.EnrichedDescription)
	assert.Equal(t, "A container ship was sighted.", *out.EnrichedDescription)
	assert.True(t, out.IsFinal())
	assert.NoError(t, out.CheckOrder())

	snaps := f.sink.Snapshots()
	require.Len(t, snaps, 2)
	assert.Contains(t, snaps[0], `stage="initial"`)
	assert.Contains(t, snaps[1], `stage="final"`)
	assert.Contains(t, snaps[1], `report_number="RPT-000001"`)

	f.publisher.AssertNumberOfCalls(t, "Publish", 1)
	f.trust.AssertCalled(t, "RecordRequestMetadata", mock.Anything,
		mock.MatchedBy(func(key string) bool { return strings.HasSuffix(key, "/trust") }),
		"acct-1", model.RequestMetadata{IP: "10.0.0.1", UserAgent: "test"})
}

func TestWorkflowQueries(t *testing.T) {
	f := newFixture()
	f.happyPath()
	env := newWorkflowEnv(t, f)

	env.ExecuteWorkflow(EnrichReportWorkflow, EnrichRequest{JobID: "sighting-q", Report: testReport()})
	require.NoError(t, env.GetWorkflowError())

	val, err := env.QueryWorkflow(QueryState)
	require.NoError(t, err)
	var state State
	require.NoError(t, val.Get(&state))
	assert.Equal(t, StateCompleted, state)

	val, err = env.QueryWorkflow(QueryMetrics)
	require.NoError(t, err)
	var snaps []string
	require.NoError(t, val.Get(&snaps))
	assert.Equal(t, f.sink.Snapshots(), snaps)
}

func TestWorkflowQueriesWhileInFlight(t *testing.T) {
	f := newFixture()
	f.numbers.On("ReportNumber", mock.Anything, 1.0, 2.0).Return("RPT-000002", nil)
	f.weather.On("Visibility", mock.Anything, 1.0, 2.0).Return(500, nil)
	f.vessels.On("Nearby", mock.Anything, mock.Anything).Return([]model.Vessel{}, nil)
	f.trust.On("TrustScore", mock.Anything, "acct-1").Return(0.9, true, nil)
	f.narrative.On("Generate", mock.Anything, mock.Anything).Return("", resilience.NewTransientError(eris.New("boom"), 503))
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	env := newWorkflowEnv(t, f)

	var midState State
	var midSnaps []string
	env.RegisterDelayedCallback(func() {
		val, err := env.QueryWorkflow(QueryState)
		require.NoError(t, err)
		require.NoError(t, val.Get(&midState))
		val, err = env.QueryWorkflow(QueryMetrics)
		require.NoError(t, err)
		require.NoError(t, val.Get(&midSnaps))
	}, time.Second)

	env.ExecuteWorkflow(EnrichReportWorkflow, EnrichRequest{JobID: "sighting-mid", Report: testReport()})
	workflowResult(t, env)

	assert.Equal(t, StateTrustKnown, midState)
	require.Len(t, midSnaps, 1)
	assert.Contains(t, midSnaps[0], `stage="initial"`)
}

func TestWorkflowVesselLookupDegrades(t *testing.T) {
	f := newFixture()
	f.numbers.On("ReportNumber", mock.Anything, 1.0, 2.0).Return("RPT-000003", nil)
	f.weather.On("Visibility", mock.Anything, 1.0, 2.0).Return(200, nil)
	f.vessels.On("Nearby", mock.Anything, mock.Anything).Return(nil, resilience.NewTransientError(eris.New("connection refused"), 0))
	f.trust.On("TrustScore", mock.Anything, "acct-1").Return(0.4, true, nil)
	f.narrative.On("Generate", mock.Anything, mock.Anything).Return("Nothing nearby.", nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	env := newWorkflowEnv(t, f)

	env.ExecuteWorkflow(EnrichReportWorkflow, EnrichRequest{JobID: "sighting-3", Report: testReport()})

	out := workflowResult(t, env)
	require.NotNil(t, out.NearbyVessels)
	assert.Empty(t, out.NearbyVessels)
	assert.True(t, out.IsFinal())
	f.vessels.AssertNumberOfCalls(t, "Nearby", 1)
	assert.Equal(t, 2, f.sink.Len())
}

func TestWorkflowNarrativeFailureAbsorbed(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{name: "transient_exhausts_retries", err: resilience.NewTransientError(eris.New("overloaded"), 529), wantCalls: 5},
		{name: "not_configured", err: narrative.ErrNotConfigured, wantCalls: 1},
		{name: "empty_response", err: eris.Wrap(narrative.ErrEmptyResponse, "narrative: anthropic"), wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.numbers.On("ReportNumber", mock.Anything, 1.0, 2.0).Return("RPT-000004", nil)
			f.weather.On("Visibility", mock.Anything, 1.0, 2.0).Return(10000, nil)
			f.vessels.On("Nearby", mock.Anything, mock.Anything).Return([]model.Vessel{}, nil)
			f.trust.On("TrustScore", mock.Anything, "acct-1").Return(0.5, true, nil)
			f.narrative.On("Generate", mock.Anything, mock.Anything).Return("", tt.err)
			f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
			env := newWorkflowEnv(t, f)

			env.ExecuteWorkflow(EnrichReportWorkflow, EnrichRequest{JobID: "sighting-4", Report: testReport()})

			out := workflowResult(t, env)
			require.NotNil(t, out.EnrichedDescription)
			assert.Equal(t, SentinelNarrative, *out.EnrichedDescription)
			f.narrative.AssertNumberOfCalls(t, "Generate", tt.wantCalls)

			snaps := f.sink.Snapshots()
			require.Len(t, snaps, 2)
			assert.Contains(t, snaps[1], "Description enrichment failed.")
		})
	}
}

func TestWorkflowFatalSteps(t *testing.T) {
	transient := resilience.NewTransientError(eris.New("timeout"), 0)

	tests := []struct {
		name      string
		setup     func(f *fixture)
		wantStep  string
		wantType  string
		wantCalls func(t *testing.T, f *fixture)
	}{
		{
			name: "report_number_exhausted",
			setup: func(f *fixture) {
				f.numbers.On("ReportNumber", mock.Anything, 1.0, 2.0).Return("", transient)
			},
			wantStep: StepAssignReportNumber,
			wantType: ErrTypeTransient,
			wantCalls: func(t *testing.T, f *fixture) {
				f.numbers.AssertNumberOfCalls(t, "ReportNumber", 5)
				f.weather.AssertNotCalled(t, "Visibility", mock.Anything, mock.Anything, mock.Anything)
			},
		},
		{
			name: "visibility_missing_key",
			setup: func(f *fixture) {
				f.numbers.On("ReportNumber", mock.Anything, 1.0, 2.0).Return("RPT-000005", nil)
				f.weather.On("Visibility", mock.Anything, 1.0, 2.0).Return(0, weather.ErrMissingKey)
			},
			wantStep: StepCalculateVisibility,
			wantType: ErrTypeConfig,
			wantCalls: func(t *testing.T, f *fixture) {
				f.weather.AssertNumberOfCalls(t, "Visibility", 1)
				f.vessels.AssertNotCalled(t, "Nearby", mock.Anything, mock.Anything)
			},
		},
		{
			name: "visibility_missing_field",
			setup: func(f *fixture) {
				f.numbers.On("ReportNumber", mock.Anything, 1.0, 2.0).Return("RPT-000005", nil)
				f.weather.On("Visibility", mock.Anything, 1.0, 2.0).Return(0, eris.Wrap(weather.ErrMissingVisibility, "weather: decode"))
			},
			wantStep: StepCalculateVisibility,
			wantType: ErrTypeDataContract,
			wantCalls: func(t *testing.T, f *fixture) {
				f.weather.AssertNumberOfCalls(t, "Visibility", 1)
			},
		},
		{
			name: "trust_store_down",
			setup: func(f *fixture) {
				f.numbers.On("ReportNumber", mock.Anything, 1.0, 2.0).Return("RPT-000006", nil)
				f.weather.On("Visibility", mock.Anything, 1.0, 2.0).Return(3000, nil)
				f.vessels.On("Nearby", mock.Anything, mock.Anything).Return([]model.Vessel{}, nil)
				f.trust.On("TrustScore", mock.Anything, "acct-1").Return(0.0, false, transient)
			},
			wantStep: StepCalculateTrustScore,
			wantType: ErrTypeTransient,
			wantCalls: func(t *testing.T, f *fixture) {
				f.trust.AssertNumberOfCalls(t, "TrustScore", 5)
				f.narrative.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)
			env := newWorkflowEnv(t, f)

			env.ExecuteWorkflow(EnrichReportWorkflow, EnrichRequest{JobID: "sighting-fail", Report: testReport()})

			require.True(t, env.IsWorkflowCompleted())
			err := env.GetWorkflowError()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantStep)
			assert.Equal(t, tt.wantType, activityErrorType(err))
			tt.wantCalls(t, f)

			// Only the pre-enrichment snapshot exists.
			snaps := f.sink.Snapshots()
			require.Len(t, snaps, 1)
			assert.Contains(t, snaps[0], `stage="initial"`)
			f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)

			val, qerr := env.QueryWorkflow(QueryState)
			require.NoError(t, qerr)
			var state State
			require.NoError(t, val.Get(&state))
			assert.Equal(t, StateFailed, state)
		})
	}
}

func TestWorkflowCanceledDuringStep(t *testing.T) {
	f := newFixture()
	f.numbers.On("ReportNumber", mock.Anything, 1.0, 2.0).Return("RPT-000008", nil)
	f.weather.On("Visibility", mock.Anything, 1.0, 2.0).
		Run(func(args mock.Arguments) {
			select {
			case <-args.Get(0).(context.Context).Done():
			case <-time.After(5 * time.Second):
			}
		}).
		Return(0, context.Canceled)
	env := newWorkflowEnv(t, f)

	env.RegisterDelayedCallback(env.CancelWorkflow, 0)
	env.ExecuteWorkflow(EnrichReportWorkflow, EnrichRequest{JobID: "sighting-cancel", Report: testReport()})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.True(t, temporal.IsCanceledError(err), "want cancel, got %v", err)
	assert.NotContains(t, err.Error(), ErrTypeStepFailed)

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		assert.NotEqual(t, ErrTypeStepFailed, appErr.Type())
	}

	val, qerr := env.QueryWorkflow(QueryState)
	require.NoError(t, qerr)
	var state State
	require.NoError(t, val.Get(&state))
	assert.Equal(t, StateCanceled, state)

	f.vessels.AssertNotCalled(t, "Nearby", mock.Anything, mock.Anything)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestWorkflowPublishFailureIsBestEffort(t *testing.T) {
	f := newFixture()
	f.numbers.On("ReportNumber", mock.Anything, 1.0, 2.0).Return("RPT-000007", nil)
	f.weather.On("Visibility", mock.Anything, 1.0, 2.0).Return(8000, nil)
	f.vessels.On("Nearby", mock.Anything, mock.Anything).Return([]model.Vessel{}, nil)
	f.trust.On("TrustScore", mock.Anything, "acct-1").Return(0.8, true, nil)
	f.narrative.On("Generate", mock.Anything, mock.Anything).Return("ok", nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(eris.New("kafka: broker unavailable"))
	env := newWorkflowEnv(t, f)

	env.ExecuteWorkflow(EnrichReportWorkflow, EnrichRequest{JobID: "sighting-7", Report: testReport()})

	out := workflowResult(t, env)
	assert.Equal(t, "ok", *out.EnrichedDescription)
	assert.Equal(t, 2, f.sink.Len())
}

func TestWorkflowCustomPolicy(t *testing.T) {
	f := newFixture()
	f.numbers.On("ReportNumber", mock.Anything, 1.0, 2.0).Return("", resilience.NewTransientError(eris.New("timeout"), 0))
	env := newWorkflowEnv(t, f)

	policy := DefaultPolicy()
	policy.Retry.MaximumAttempts = 2
	env.ExecuteWorkflow(EnrichReportWorkflow, EnrichRequest{JobID: "sighting-8", Report: testReport(), Policy: &policy})

	require.Error(t, env.GetWorkflowError())
	f.numbers.AssertNumberOfCalls(t, "ReportNumber", 2)
}

func TestWorkflowSnapshotsAccumulateAcrossRuns(t *testing.T) {
	f := newFixture()
	f.happyPath()

	for i := range 3 {
		env := newWorkflowEnv(t, f)
		env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: fmt.Sprintf("sighting-%d", i)})
		env.ExecuteWorkflow(EnrichReportWorkflow, EnrichRequest{JobID: "sighting-n", Report: testReport()})
		workflowResult(t, env)
	}

	exp := f.sink.Exposition()
	assert.Equal(t, 3, strings.Count(exp, "ship_info{"))
	assert.Equal(t, 3, strings.Count(exp, "ship_trust_score{"))
}
