package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sightings/internal/api"
	"github.com/sells-group/sightings/internal/engine"
)

var workerMetricsPort int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the enrichment worker and serve its metrics sink",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initWorkerEnv(ctx, "worker")
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

		port := workerMetricsPort
		if port == 0 {
			port = cfg.Worker.MetricsPort
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.MetricsRouter(env.Sink, env.Metrics, api.WithHealthChecks(env.Store, env.Breakers)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return engine.RunWorker(gctx, w)
		})
		g.Go(func() error {
			zap.L().Info("serving worker metrics",
				zap.Int("port", port),
				zap.String("task_queue", cfg.Temporal.TaskQueue),
			)
			return listen(srv)
		})
		g.Go(func() error {
			<-gctx.Done()
			return shutdown(srv)
		})
		return g.Wait()
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerMetricsPort, "metrics-port", 0, "metrics port (default from config)")
	rootCmd.AddCommand(workerCmd)
}
