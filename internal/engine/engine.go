// Package engine connects to Temporal and hosts the enrichment worker.
package engine

import (
	"context"
	"crypto/tls"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/sightings/internal/config"
	"github.com/sells-group/sightings/internal/pipeline"
)

// ClientOptions builds Temporal client options from configuration. An API
// key switches the connection to TLS with static API key credentials.
func ClientOptions(cfg config.TemporalConfig, logger *zap.Logger) client.Options {
	opts := client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewZapLogger(logger),
	}
	if cfg.APIKey != "" {
		opts.Credentials = client.NewAPIKeyStaticCredentials(cfg.APIKey)
		opts.ConnectionOptions = client.ConnectionOptions{TLS: &tls.Config{MinVersion: tls.VersionTLS12}}
	}
	return opts
}

// Dial connects to the Temporal frontend.
func Dial(ctx context.Context, cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.DialContext(ctx, ClientOptions(cfg, zap.L()))
	if err != nil {
		return nil, eris.Wrapf(err, "engine: dial temporal %s", cfg.HostPort)
	}
	zap.L().Info("engine: connected to temporal",
		zap.String("host_port", cfg.HostPort),
		zap.String("namespace", cfg.Namespace),
	)
	return c, nil
}

// Registry is the subset of worker.Registry used to register the pipeline.
// The Temporal test environment satisfies it too.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivity(a interface{})
}

// Register adds the enrichment workflow and activities to r.
func Register(r Registry, acts *pipeline.Activities) {
	r.RegisterWorkflowWithOptions(pipeline.EnrichReportWorkflow, workflow.RegisterOptions{Name: pipeline.WorkflowName})
	r.RegisterActivity(acts)
}

// NewWorker creates a worker polling the configured task queue with the
// enrichment workflow and acts registered.
func NewWorker(c client.Client, cfg *config.Config, acts *pipeline.Activities) worker.Worker {
	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.Worker.MaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.Worker.MaxConcurrentWorkflowTasks,
	})
	Register(w, acts)
	return w
}

// RunWorker starts w and blocks until ctx is done, then stops it.
func RunWorker(ctx context.Context, w worker.Worker) error {
	if err := w.Start(); err != nil {
		return eris.Wrap(err, "engine: start worker")
	}
	zap.L().Info("engine: worker started")
	<-ctx.Done()
	w.Stop()
	zap.L().Info("engine: worker stopped")
	return nil
}
