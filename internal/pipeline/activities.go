package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/sells-group/sightings/internal/metrics"
	"github.com/sells-group/sightings/internal/model"
	"github.com/sells-group/sightings/internal/narrative"
	"github.com/sells-group/sightings/pkg/ais"
)

// Step names used in logs, errors and metrics.
const (
	StepAssignReportNumber  = "AssignReportNumber"
	StepCalculateVisibility = "CalculateVisibility"
	StepFindNearbyVessels   = "FindNearbyVessels"
	StepCalculateTrustScore = "CalculateTrustScore"
	StepEnrichNarrative     = "EnrichNarrative"
	StepEmitMetrics         = "EmitMetricsSnapshot"
	StepPublishReport       = "PublishReport"
)

// ReportNumberAuthority allocates report numbers idempotently per location.
type ReportNumberAuthority interface {
	ReportNumber(ctx context.Context, lat, lon float64) (string, error)
}

// VisibilitySource reports visibility in metres at a location.
type VisibilitySource interface {
	Visibility(ctx context.Context, lat, lon float64) (int, error)
}

// VesselSource lists vessels near a location.
type VesselSource interface {
	Nearby(ctx context.Context, q ais.Query) ([]model.Vessel, error)
}

// TrustStore reads account trust scores and records request metadata.
type TrustStore interface {
	TrustScore(ctx context.Context, accountID string) (float64, bool, error)
	RecordRequestMetadata(ctx context.Context, key, accountID string, meta model.RequestMetadata) error
}

// SnapshotSink receives rendered metrics snapshots.
type SnapshotSink interface {
	Append(key, snapshot string) bool
	Len() int
}

// Publisher announces completed reports.
type Publisher interface {
	Publish(ctx context.Context, report *model.EnrichedReport) error
}

// Settings tunes activity behaviour.
type Settings struct {
	DefaultTrustScore float64
	MetadataTimeout   time.Duration
	TailHours         float64
	SimWindowMinutes  int
	MinRadiusKm       float64
	NarrativeLabelMax int
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		DefaultTrustScore: 0.7,
		MetadataTimeout:   2 * time.Second,
		TailHours:         0.1,
		SimWindowMinutes:  120,
		MinRadiusKm:       1,
		NarrativeLabelMax: metrics.DefaultNarrativeLabelMax,
	}
}

// Activities holds the dependencies of the enrichment steps. Its exported
// methods are registered as Temporal activities.
type Activities struct {
	Numbers   ReportNumberAuthority
	Weather   VisibilitySource
	Vessels   VesselSource
	Trust     TrustStore
	Narrative narrative.Generator
	Sink      SnapshotSink
	Publisher Publisher
	Metrics   *metrics.PipelineMetrics
	Settings  Settings
}

// TrustRequest is the input of CalculateTrustScore.
type TrustRequest struct {
	Report   *model.EnrichedReport  `json:"report"`
	Metadata *model.RequestMetadata `json:"metadata,omitempty"`
}

// SnapshotRequest is the input of EmitMetricsSnapshot.
type SnapshotRequest struct {
	Report *model.EnrichedReport `json:"report"`
	At     time.Time             `json:"at"`
}

func stepLogger(step string, r *model.EnrichedReport) *zap.Logger {
	if r == nil {
		return zap.L().With(zap.String("step", step))
	}
	return zap.L().With(
		zap.String("step", step),
		zap.String("source_account_id", r.SourceAccountID),
		zap.Float64("latitude", r.Latitude),
		zap.Float64("longitude", r.Longitude),
	)
}

// fail logs a step failure, counts it and converts it for the retry policy.
func (a *Activities) fail(step string, r *model.EnrichedReport, err error) error {
	kind := errorKind(err)
	stepLogger(step, r).Error("pipeline: step failed", zap.String("kind", kind), zap.Error(err))
	a.Metrics.StepError(step, kind)
	return classify(step, err)
}

// requireProgress rejects a report whose first n enrichment fields are not
// all populated, or whose fields are populated out of order.
func requireProgress(r *model.EnrichedReport, n int) error {
	if r == nil {
		return eris.Wrap(ErrOutOfOrder, "pipeline: nil report")
	}
	if err := r.CheckOrder(); err != nil {
		return eris.Wrap(ErrOutOfOrder, err.Error())
	}
	if r.Progress() < n {
		return eris.Wrapf(ErrOutOfOrder, "pipeline: expected %d enriched fields, have %d", n, r.Progress())
	}
	return nil
}

// AssignReportNumber obtains the report number for the sighting location.
func (a *Activities) AssignReportNumber(ctx context.Context, r *model.EnrichedReport) (string, error) {
	if err := requireProgress(r, 0); err != nil {
		return "", a.fail(StepAssignReportNumber, r, err)
	}
	number, err := a.Numbers.ReportNumber(ctx, r.Latitude, r.Longitude)
	if err != nil {
		return "", a.fail(StepAssignReportNumber, r, err)
	}
	stepLogger(StepAssignReportNumber, r).Debug("pipeline: report number assigned", zap.String("report_number", number))
	return number, nil
}

// CalculateVisibility looks up visibility in metres at the sighting location.
func (a *Activities) CalculateVisibility(ctx context.Context, r *model.EnrichedReport) (int, error) {
	if err := requireProgress(r, 1); err != nil {
		return 0, a.fail(StepCalculateVisibility, r, err)
	}
	v, err := a.Weather.Visibility(ctx, r.Latitude, r.Longitude)
	if err != nil {
		return 0, a.fail(StepCalculateVisibility, r, err)
	}
	return v, nil
}

// SearchRadiusKm converts visibility in metres into the proximity search
// radius, never below minKm.
func SearchRadiusKm(visibility int, minKm float64) float64 {
	return math.Max(float64(visibility)/1000, minKm)
}

// FindNearbyVessels lists vessels within visibility range. A failed lookup
// yields an empty list; only a report without visibility is an error.
func (a *Activities) FindNearbyVessels(ctx context.Context, r *model.EnrichedReport) ([]model.Vessel, error) {
	if err := requireProgress(r, 2); err != nil {
		return nil, a.fail(StepFindNearbyVessels, r, err)
	}

	q := ais.Query{
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		RadiusKm:         SearchRadiusKm(*r.Visibility, a.Settings.MinRadiusKm),
		TailHours:        a.Settings.TailHours,
		SimWindowMinutes: a.Settings.SimWindowMinutes,
	}
	vessels, err := a.Vessels.Nearby(ctx, q)
	if err != nil {
		stepLogger(StepFindNearbyVessels, r).Warn("pipeline: vessel lookup failed, continuing without vessels",
			zap.Float64("radius_km", q.RadiusKm),
			zap.Error(err),
		)
		a.Metrics.VesselLookupDegraded()
		return []model.Vessel{}, nil
	}
	if vessels == nil {
		vessels = []model.Vessel{}
	}
	return vessels, nil
}

// CalculateTrustScore returns the reporting account's trust score, or the
// default when the account has none. Request metadata, when present, is
// recorded once per workflow on a best-effort basis.
func (a *Activities) CalculateTrustScore(ctx context.Context, req TrustRequest) (float64, error) {
	r := req.Report
	if err := requireProgress(r, 3); err != nil {
		return 0, a.fail(StepCalculateTrustScore, r, err)
	}

	if req.Metadata != nil {
		a.recordMetadata(ctx, r, *req.Metadata)
	}

	score, ok, err := a.Trust.TrustScore(ctx, r.SourceAccountID)
	if err != nil {
		return 0, a.fail(StepCalculateTrustScore, r, err)
	}
	if !ok {
		return a.Settings.DefaultTrustScore, nil
	}
	return math.Min(math.Max(score, 0), 1), nil
}

func (a *Activities) recordMetadata(ctx context.Context, r *model.EnrichedReport, meta model.RequestMetadata) {
	key := activity.GetInfo(ctx).WorkflowExecution.ID + "/trust"

	timeout := a.Settings.MetadataTimeout
	if timeout <= 0 {
		timeout = DefaultSettings().MetadataTimeout
	}
	mctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := a.Trust.RecordRequestMetadata(mctx, key, r.SourceAccountID, meta); err != nil {
		stepLogger(StepCalculateTrustScore, r).Warn("pipeline: failed to record request metadata",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// EnrichNarrative generates the analyst narrative for a report.
func (a *Activities) EnrichNarrative(ctx context.Context, r *model.EnrichedReport) (string, error) {
	if err := requireProgress(r, 4); err != nil {
		return "", a.fail(StepEnrichNarrative, r, err)
	}
	if a.Narrative == nil {
		return "", a.fail(StepEnrichNarrative, r, narrative.ErrNotConfigured)
	}
	text, err := a.Narrative.Generate(ctx, r)
	if err != nil {
		return "", a.fail(StepEnrichNarrative, r, err)
	}
	return text, nil
}

// EmitMetricsSnapshot renders the report and appends it to the sink once per
// workflow run and stage. The rendered snapshot is returned either way.
func (a *Activities) EmitMetricsSnapshot(ctx context.Context, req SnapshotRequest) (string, error) {
	r := req.Report
	if r == nil {
		return "", a.fail(StepEmitMetrics, nil, eris.Wrap(ErrOutOfOrder, "pipeline: nil report"))
	}

	snapshot := metrics.Render(r, req.At, metrics.RenderOptions{NarrativeLabelMax: a.Settings.NarrativeLabelMax})

	info := activity.GetInfo(ctx)
	stage := r.Stage()
	key := metrics.SnapshotKey(info.WorkflowExecution.ID, info.WorkflowExecution.RunID, stage)
	if a.Sink != nil && a.Sink.Append(key, snapshot) {
		a.Metrics.SnapshotAppended(string(stage), a.Sink.Len())
		if stage == model.StageFinal && r.EnrichedDescription != nil && *r.EnrichedDescription == SentinelNarrative {
			a.Metrics.NarrativeFallback()
		}
	}
	return snapshot, nil
}

// PublishReport announces a completed report. It is a no-op without a
// publisher.
func (a *Activities) PublishReport(ctx context.Context, r *model.EnrichedReport) error {
	if a.Publisher == nil {
		return nil
	}
	if err := a.Publisher.Publish(ctx, r); err != nil {
		return a.fail(StepPublishReport, r, err)
	}
	return nil
}
