package pipeline

import (
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/sightings/internal/model"
)

// run carries the mutable state of one workflow execution.
type run struct {
	state     State
	snapshots []string
}

// EnrichReportWorkflow enriches one sighting. Steps run strictly in order:
// report number, visibility, nearby vessels, trust score, narrative. A
// failure of any of the first four fails the run; a narrative failure is
// replaced by SentinelNarrative. Metrics snapshots are emitted before and
// after enrichment.
func EnrichReportWorkflow(ctx workflow.Context, req EnrichRequest) (*model.EnrichedReport, error) {
	logger := workflow.GetLogger(ctx)
	policy := DefaultPolicy()
	if req.Policy != nil {
		policy = req.Policy.withDefaults()
	}

	st := &run{state: StateStarted}
	if err := workflow.SetQueryHandler(ctx, QueryMetrics, func() ([]string, error) {
		out := make([]string, len(st.snapshots))
		copy(out, st.snapshots)
		return out, nil
	}); err != nil {
		return nil, eris.Wrap(err, "pipeline: register metrics query")
	}
	if err := workflow.SetQueryHandler(ctx, QueryState, func() (State, error) {
		return st.state, nil
	}); err != nil {
		return nil, eris.Wrap(err, "pipeline: register state query")
	}

	var a *Activities
	report := model.NewEnrichedReport(req.Report)
	logger.Info("pipeline: starting enrichment",
		"job_id", req.JobID,
		"source_account_id", report.SourceAccountID,
		"latitude", report.Latitude,
		"longitude", report.Longitude,
	)

	st.emitSnapshot(ctx, policy, report)

	// canceled ends the run without reporting a step failure; the cancel
	// error is returned as is so the run closes as canceled.
	canceled := func(step string, err error) (*model.EnrichedReport, error) {
		st.state = StateCanceled
		logger.Info("pipeline: run canceled",
			"step", step,
			"job_id", req.JobID,
			"source_account_id", report.SourceAccountID,
		)
		return nil, err
	}

	fatal := func(step string, err error) (*model.EnrichedReport, error) {
		if temporal.IsCanceledError(err) {
			return canceled(step, err)
		}
		st.state = StateFailed
		logger.Error("pipeline: run failed",
			"step", step,
			"source_account_id", report.SourceAccountID,
			"latitude", report.Latitude,
			"longitude", report.Longitude,
			"error", err,
		)
		return nil, temporal.NewNonRetryableApplicationError("pipeline: "+step+" failed", ErrTypeStepFailed, err)
	}

	// 1. Report number.
	var number string
	if err := workflow.ExecuteActivity(policy.withTimeout(ctx, policy.ReportNumberTimeout), a.AssignReportNumber, report).Get(ctx, &number); err != nil {
		return fatal(StepAssignReportNumber, err)
	}
	report.ReportNumber = &number
	st.state = StateNumberAssigned

	// 2. Visibility.
	var visibility int
	if err := workflow.ExecuteActivity(policy.withTimeout(ctx, policy.VisibilityTimeout), a.CalculateVisibility, report).Get(ctx, &visibility); err != nil {
		return fatal(StepCalculateVisibility, err)
	}
	report.Visibility = &visibility
	st.state = StateVisibilityKnown

	// 3. Nearby vessels.
	var vessels []model.Vessel
	if err := workflow.ExecuteActivity(policy.withTimeout(ctx, policy.VesselsTimeout), a.FindNearbyVessels, report).Get(ctx, &vessels); err != nil {
		return fatal(StepFindNearbyVessels, err)
	}
	if vessels == nil {
		vessels = []model.Vessel{}
	}
	report.NearbyVessels = vessels
	st.state = StateNeighboursKnown

	// 4. Trust score.
	var trust float64
	trustReq := TrustRequest{Report: report, Metadata: req.Metadata}
	if err := workflow.ExecuteActivity(policy.withTimeout(ctx, policy.TrustTimeout), a.CalculateTrustScore, trustReq).Get(ctx, &trust); err != nil {
		return fatal(StepCalculateTrustScore, err)
	}
	report.TrustScore = &trust
	st.state = StateTrustKnown

	// 5. Narrative. Failure is absorbed.
	var text string
	if err := workflow.ExecuteActivity(policy.withTimeout(ctx, policy.NarrativeTimeout), a.EnrichNarrative, report).Get(ctx, &text); err != nil {
		if temporal.IsCanceledError(err) {
			return canceled(StepEnrichNarrative, err)
		}
		logger.Error("pipeline: narrative enrichment failed, using fallback",
			"source_account_id", report.SourceAccountID,
			"latitude", report.Latitude,
			"longitude", report.Longitude,
			"report_number", number,
			"error", err,
		)
		text = SentinelNarrative
	}
	report.EnrichedDescription = &text
	st.state = StateNarrativeAttempted

	st.emitSnapshot(ctx, policy, report)
	st.state = StateCompleted

	if err := workflow.ExecuteActivity(policy.withTimeout(ctx, policy.PublishTimeout), a.PublishReport, report).Get(ctx, nil); err != nil {
		logger.Warn("pipeline: publish failed",
			"report_number", number,
			"error", err,
		)
	}

	logger.Info("pipeline: enrichment complete",
		"job_id", req.JobID,
		"report_number", number,
		"vessels", len(vessels),
	)
	return report, nil
}

// emitSnapshot renders and records a metrics snapshot. Failures are logged
// and never fail the run.
func (st *run) emitSnapshot(ctx workflow.Context, policy Policy, report *model.EnrichedReport) {
	var a *Activities
	var snapshot string
	req := SnapshotRequest{Report: report, At: workflow.Now(ctx)}
	if err := workflow.ExecuteActivity(policy.withTimeout(ctx, policy.MetricsTimeout), a.EmitMetricsSnapshot, req).Get(ctx, &snapshot); err != nil {
		workflow.GetLogger(ctx).Warn("pipeline: metrics snapshot failed",
			"stage", string(report.Stage()),
			"source_account_id", report.SourceAccountID,
			"error", err,
		)
		return
	}
	st.snapshots = append(st.snapshots, snapshot)
}
