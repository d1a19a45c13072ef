// Package pipeline enriches sighting reports as a Temporal workflow. Each
// enrichment step is an activity with its own timeout and retry policy; the
// workflow runs them strictly in order.
package pipeline

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/sightings/internal/config"
	"github.com/sells-group/sightings/internal/model"
)

// WorkflowName is the registered name of EnrichReportWorkflow.
const WorkflowName = "EnrichReportWorkflow"

// Query names exposed by a running workflow.
const (
	QueryMetrics = "metrics"
	QueryState   = "state"
)

// SentinelNarrative replaces the narrative when generation fails.
const SentinelNarrative = "Description enrichment failed. Please check the logs for details."

// RetryPolicy is the retry schedule applied to every step.
type RetryPolicy struct {
	InitialInterval    time.Duration `json:"initial_interval"`
	BackoffCoefficient float64       `json:"backoff_coefficient"`
	MaximumInterval    time.Duration `json:"maximum_interval"`
	MaximumAttempts    int32         `json:"maximum_attempts"`
}

// Policy holds per-step timeouts and the shared retry schedule. It travels
// with the workflow input so a redeploy never changes an in-flight run.
type Policy struct {
	ReportNumberTimeout time.Duration `json:"report_number_timeout"`
	VisibilityTimeout   time.Duration `json:"visibility_timeout"`
	VesselsTimeout      time.Duration `json:"vessels_timeout"`
	TrustTimeout        time.Duration `json:"trust_timeout"`
	NarrativeTimeout    time.Duration `json:"narrative_timeout"`
	MetricsTimeout      time.Duration `json:"metrics_timeout"`
	PublishTimeout      time.Duration `json:"publish_timeout"`
	Retry               RetryPolicy   `json:"retry"`
}

// DefaultPolicy returns the step policy used when none is supplied.
func DefaultPolicy() Policy {
	return Policy{
		ReportNumberTimeout: 10 * time.Second,
		VisibilityTimeout:   10 * time.Second,
		VesselsTimeout:      10 * time.Second,
		TrustTimeout:        10 * time.Second,
		NarrativeTimeout:    30 * time.Second,
		MetricsTimeout:      5 * time.Second,
		PublishTimeout:      10 * time.Second,
		Retry: RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}
}

// PolicyFromConfig builds a Policy from configuration, keeping defaults for
// unset values.
func PolicyFromConfig(cfg config.PipelineConfig) Policy {
	p := Policy{
		ReportNumberTimeout: seconds(cfg.Timeouts.ReportNumberSecs),
		VisibilityTimeout:   seconds(cfg.Timeouts.VisibilitySecs),
		VesselsTimeout:      seconds(cfg.Timeouts.VesselsSecs),
		TrustTimeout:        seconds(cfg.Timeouts.TrustSecs),
		NarrativeTimeout:    seconds(cfg.Timeouts.NarrativeSecs),
		MetricsTimeout:      seconds(cfg.Timeouts.MetricsSecs),
		PublishTimeout:      seconds(cfg.Timeouts.PublishSecs),
		Retry: RetryPolicy{
			InitialInterval:    seconds(cfg.Retry.InitialIntervalSecs),
			BackoffCoefficient: cfg.Retry.BackoffCoefficient,
			MaximumInterval:    seconds(cfg.Retry.MaxIntervalSecs),
			MaximumAttempts:    int32(cfg.Retry.MaxAttempts),
		},
	}
	return p.withDefaults()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	pick := func(v, def time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return def
	}
	p.ReportNumberTimeout = pick(p.ReportNumberTimeout, d.ReportNumberTimeout)
	p.VisibilityTimeout = pick(p.VisibilityTimeout, d.VisibilityTimeout)
	p.VesselsTimeout = pick(p.VesselsTimeout, d.VesselsTimeout)
	p.TrustTimeout = pick(p.TrustTimeout, d.TrustTimeout)
	p.NarrativeTimeout = pick(p.NarrativeTimeout, d.NarrativeTimeout)
	p.MetricsTimeout = pick(p.MetricsTimeout, d.MetricsTimeout)
	p.PublishTimeout = pick(p.PublishTimeout, d.PublishTimeout)
	p.Retry.InitialInterval = pick(p.Retry.InitialInterval, d.Retry.InitialInterval)
	p.Retry.MaximumInterval = pick(p.Retry.MaximumInterval, d.Retry.MaximumInterval)
	if p.Retry.BackoffCoefficient < 1 {
		p.Retry.BackoffCoefficient = d.Retry.BackoffCoefficient
	}
	if p.Retry.MaximumAttempts <= 0 {
		p.Retry.MaximumAttempts = d.Retry.MaximumAttempts
	}
	return p
}

func (p Policy) retryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:        p.Retry.InitialInterval,
		BackoffCoefficient:     p.Retry.BackoffCoefficient,
		MaximumInterval:        p.Retry.MaximumInterval,
		MaximumAttempts:        p.Retry.MaximumAttempts,
		NonRetryableErrorTypes: []string{ErrTypeConfig, ErrTypeDataContract, ErrTypeOrdering},
	}
}

func (p Policy) withTimeout(ctx workflow.Context, timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         p.retryPolicy(),
	})
}

// EnrichRequest is the workflow input.
type EnrichRequest struct {
	JobID    string                 `json:"job_id"`
	Report   model.RawReport        `json:"report"`
	Metadata *model.RequestMetadata `json:"metadata,omitempty"`
	Policy   *Policy                `json:"policy,omitempty"`
}

// State is the position of a run in the enrichment state machine.
type State string

const (
	StateStarted            State = "Started"
	StateNumberAssigned     State = "NumberAssigned"
	StateVisibilityKnown    State = "VisibilityKnown"
	StateNeighboursKnown    State = "NeighboursKnown"
	StateTrustKnown         State = "TrustKnown"
	StateNarrativeAttempted State = "NarrativeAttempted"
	StateCompleted          State = "Completed"
	StateFailed             State = "Failed"
	StateCanceled           State = "Canceled"
)
