package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sightings/internal/api"
	"github.com/sells-group/sightings/internal/engine"
	"github.com/sells-group/sightings/internal/metrics"
	"github.com/sells-group/sightings/internal/pipeline"
	"github.com/sells-group/sightings/internal/storage"
	"github.com/sells-group/sightings/internal/submission"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP front door with an embedded enrichment worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initWorkerEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		tc, err := engine.Dial(ctx, cfg.Temporal)
		if err != nil {
			return err
		}
		defer tc.Close()

		w := engine.NewWorker(tc, cfg, env.Activities)
		svc := newSubmissionService(tc, env.Uploader, env.Metrics)

		opts := []api.Option{
			api.WithPipelineMetrics(env.Metrics),
			api.WithHealthChecks(env.Store, env.Breakers),
			api.WithPublicBaseURL(cfg.Server.PublicBaseURL),
			api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		}
		if env.Uploader != nil {
			opts = append(opts, api.WithImageUploader(env.Uploader))
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.New(svc, env.Sink, opts...).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return engine.RunWorker(gctx, w)
		})
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			return listen(srv)
		})
		g.Go(func() error {
			<-gctx.Done()
			return shutdown(srv)
		})
		return g.Wait()
	},
}

// newSubmissionService wires the front door to Temporal. uploader may be nil.
func newSubmissionService(c client.Client, uploader *storage.Uploader, pm *metrics.PipelineMetrics) *submission.Service {
	opts := []submission.Option{
		submission.WithPolicy(pipeline.PolicyFromConfig(cfg.Pipeline)),
		submission.WithMetrics(pm),
	}
	if uploader != nil {
		opts = append(opts, submission.WithUploader(uploader))
	}
	return submission.NewService(c, cfg.Temporal.TaskQueue, opts...)
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func shutdown(srv *http.Server) error {
	zap.L().Info("shutting down server", zap.String("addr", srv.Addr))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return eris.Wrap(srv.Shutdown(ctx), "server shutdown")
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
