// Package submission accepts sighting reports and tracks their enrichment
// runs on Temporal.
package submission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/sightings/internal/metrics"
	"github.com/sells-group/sightings/internal/model"
	"github.com/sells-group/sightings/internal/pipeline"
	"github.com/sells-group/sightings/internal/storage"
)

// JobIDPrefix starts every workflow ID.
const JobIDPrefix = "sighting-"

var (
	// ErrInvalidReport is returned when a report fails validation.
	ErrInvalidReport = eris.New("submission: invalid report")
	// ErrUploadFailed is returned when an inline image cannot be stored.
	ErrUploadFailed = eris.New("submission: image upload failed")
	// ErrJobNotFound is returned for an unknown job ID.
	ErrJobNotFound = eris.New("submission: job not found")
)

// ImageUploader stores an inline base64 image and returns its URL.
type ImageUploader interface {
	UploadBase64(ctx context.Context, data string) (string, error)
}

// Service starts and inspects enrichment workflows.
type Service struct {
	client    client.Client
	taskQueue string
	policy    *pipeline.Policy
	uploader  ImageUploader
	metrics   *metrics.PipelineMetrics
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithUploader enables inline image uploads.
func WithUploader(u ImageUploader) Option {
	return func(s *Service) { s.uploader = u }
}

// WithPolicy attaches a step policy to every submitted run.
func WithPolicy(p pipeline.Policy) Option {
	return func(s *Service) { s.policy = &p }
}

// WithMetrics records submission outcomes.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a Service submitting to taskQueue.
func NewService(c client.Client, taskQueue string, opts ...Option) *Service {
	s := &Service{
		client:    c,
		taskQueue: taskQueue,
		now:       time.Now,
		newID:     func() string { return JobIDPrefix + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates raw, uploads an inline image if present, and starts an
// enrichment run. The returned handle identifies the run.
func (s *Service) Submit(ctx context.Context, raw model.RawReport, meta *model.RequestMetadata) (*model.JobHandle, error) {
	if err := raw.Validate(); err != nil {
		s.metrics.Submission(metrics.OutcomeInvalid)
		return nil, eris.Wrap(ErrInvalidReport, err.Error())
	}

	if storage.IsDataURI(raw.PictureURL) {
		if s.uploader == nil {
			s.metrics.Submission(metrics.OutcomeUploadFailed)
			return nil, eris.Wrap(ErrUploadFailed, "image storage is not configured")
		}
		url, err := s.uploader.UploadBase64(ctx, raw.PictureURL)
		if err != nil {
			s.metrics.Submission(metrics.OutcomeUploadFailed)
			return nil, eris.Wrap(ErrUploadFailed, err.Error())
		}
		raw.PictureURL = url
	}

	jobID := s.newID()
	req := pipeline.EnrichRequest{JobID: jobID, Report: raw, Metadata: meta, Policy: s.policy}
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        jobID,
		TaskQueue: s.taskQueue,
	}, pipeline.WorkflowName, req)
	if err != nil {
		s.metrics.Submission(metrics.OutcomeStartFailed)
		return nil, eris.Wrapf(err, "submission: start workflow %s", jobID)
	}

	s.metrics.Submission(metrics.OutcomeAccepted)
	zap.L().Info("submission: report accepted",
		zap.String("job_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.String("source_account_id", raw.SourceAccountID),
	)
	return &model.JobHandle{
		JobID:       run.GetID(),
		RunID:       run.GetRunID(),
		Status:      model.JobStatusQueued,
		SubmittedAt: s.now().UTC(),
	}, nil
}

// Status describes a run and, once it has closed, its result or error.
func (s *Service) Status(ctx context.Context, jobID string) (*model.Job, error) {
	resp, err := s.client.DescribeWorkflowExecution(ctx, jobID, "")
	if err != nil {
		return nil, notFound(err, jobID)
	}
	info := resp.GetWorkflowExecutionInfo()

	job := &model.Job{
		JobID:     jobID,
		RunID:     info.GetExecution().GetRunId(),
		Status:    jobStatus(info.GetStatus()),
		StartedAt: info.GetStartTime().AsTime(),
	}
	if ct := info.GetCloseTime(); ct != nil {
		closed := ct.AsTime()
		job.ClosedAt = &closed
	}

	switch job.Status {
	case model.JobStatusRunning:
		val, qerr := s.client.QueryWorkflow(ctx, jobID, job.RunID, pipeline.QueryState)
		if qerr != nil {
			zap.L().Debug("submission: state query failed", zap.String("job_id", jobID), zap.Error(qerr))
			break
		}
		var state pipeline.State
		if val.Get(&state) == nil {
			job.State = string(state)
		}
	case model.JobStatusCompleted:
		var out model.EnrichedReport
		if gerr := s.client.GetWorkflow(ctx, jobID, job.RunID).Get(ctx, &out); gerr != nil {
			return nil, eris.Wrapf(gerr, "submission: get result %s", jobID)
		}
		job.State = string(pipeline.StateCompleted)
		job.Result = &out
	default:
		if gerr := s.client.GetWorkflow(ctx, jobID, job.RunID).Get(ctx, nil); gerr != nil {
			job.Error = gerr.Error()
		}
	}
	return job, nil
}

// Snapshots returns the metrics snapshots a run has emitted so far.
func (s *Service) Snapshots(ctx context.Context, jobID string) ([]string, error) {
	val, err := s.client.QueryWorkflow(ctx, jobID, "", pipeline.QueryMetrics)
	if err != nil {
		return nil, notFound(err, jobID)
	}
	var snaps []string
	if err := val.Get(&snaps); err != nil {
		return nil, eris.Wrapf(err, "submission: decode snapshots %s", jobID)
	}
	return snaps, nil
}

func notFound(err error, jobID string) error {
	var nf *serviceerror.NotFound
	if errors.As(err, &nf) {
		return eris.Wrap(ErrJobNotFound, jobID)
	}
	return eris.Wrapf(err, "submission: describe %s", jobID)
}

func jobStatus(s enumspb.WorkflowExecutionStatus) model.JobStatus {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return model.JobStatusRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return model.JobStatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return model.JobStatusCanceled
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return model.JobStatusTimedOut
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED, enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return model.JobStatusFailed
	default:
		return model.JobStatusQueued
	}
}
