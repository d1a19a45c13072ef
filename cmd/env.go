package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sightings/internal/events"
	"github.com/sells-group/sightings/internal/metrics"
	"github.com/sells-group/sightings/internal/narrative"
	"github.com/sells-group/sightings/internal/pipeline"
	"github.com/sells-group/sightings/internal/resilience"
	"github.com/sells-group/sightings/internal/storage"
	"github.com/sells-group/sightings/internal/store"
	"github.com/sells-group/sightings/pkg/ais"
	"github.com/sells-group/sightings/pkg/weather"
)

// workerEnv holds everything the enrichment activities depend on, plus the
// sink and metrics the HTTP side exposes.
type workerEnv struct {
	Store      store.Store
	Activities *pipeline.Activities
	Sink       *metrics.Sink
	Metrics    *metrics.PipelineMetrics
	Breakers   *resilience.ServiceBreakers
	Uploader   *storage.Uploader // nil when storage is not configured
	publisher  *events.Publisher
}

// Close releases resources held by the environment.
func (e *workerEnv) Close() {
	if e.publisher != nil {
		if err := e.publisher.Close(); err != nil {
			zap.L().Warn("close event publisher", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initWorkerEnv opens the store, builds the upstream clients and assembles
// the activities. Callers should defer env.Close().
func initWorkerEnv(ctx context.Context, mode string) (*workerEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	gen, err := narrative.New(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	breakers := resilience.NewServiceBreakers(resilience.CircuitFromConfig(cfg.Pipeline))
	weatherClient := weather.NewClient(cfg.Weather.Key,
		weather.WithBaseURL(cfg.Weather.BaseURL),
		weather.WithMaxVisibility(cfg.Weather.MaxVisibility),
		weather.WithRateLimit(cfg.Weather.RequestsPerMin),
		weather.WithHTTPClient(&http.Client{Timeout: seconds(cfg.Weather.TimeoutSecs)}),
		weather.WithBreaker(breakers.Get("weather")),
	)
	aisClient := ais.NewClient(
		ais.WithBaseURL(cfg.AIS.BaseURL),
		ais.WithHTTPClient(&http.Client{Timeout: seconds(cfg.AIS.TimeoutSecs)}),
		ais.WithBreaker(breakers.Get("ais")),
	)

	if cfg.Weather.Key == "" {
		zap.L().Warn("SIGHTINGS_WEATHER_KEY not set, visibility lookups will fail")
	}

	var sinkOpts []metrics.SinkOption
	if cfg.Metrics.Capacity > 0 {
		sinkOpts = append(sinkOpts, metrics.WithCapacity(cfg.Metrics.Capacity))
	}
	sink := metrics.NewSink(sinkOpts...)
	pm := metrics.NewPipelineMetrics()

	settings := pipeline.DefaultSettings()
	settings.DefaultTrustScore = cfg.Pipeline.DefaultTrustScore
	if cfg.Pipeline.MetadataTimeoutMs > 0 {
		settings.MetadataTimeout = time.Duration(cfg.Pipeline.MetadataTimeoutMs) * time.Millisecond
	}
	if cfg.AIS.TailHours > 0 {
		settings.TailHours = cfg.AIS.TailHours
	}
	if cfg.AIS.SimWindowMinutes > 0 {
		settings.SimWindowMinutes = cfg.AIS.SimWindowMinutes
	}
	if cfg.AIS.MinRadiusKm > 0 {
		settings.MinRadiusKm = cfg.AIS.MinRadiusKm
	}
	settings.NarrativeLabelMax = cfg.Metrics.NarrativeLabelMax

	acts := &pipeline.Activities{
		Numbers:   st,
		Weather:   weatherClient,
		Vessels:   aisClient,
		Trust:     st,
		Narrative: gen,
		Sink:      sink,
		Metrics:   pm,
		Settings:  settings,
	}
	env := &workerEnv{
		Store:      st,
		Activities: acts,
		Sink:       sink,
		Metrics:    pm,
		Breakers:   breakers,
	}

	if cfg.Storage.Enabled() {
		env.Uploader, err = initUploader()
		if err != nil {
			env.Close()
			return nil, err
		}
	} else {
		zap.L().Debug("object storage not configured, inline images will be rejected")
	}

	if cfg.Kafka.Enabled() {
		env.publisher = events.NewPublisher(events.NewKafkaWriter(cfg.Kafka))
		acts.Publisher = env.publisher
		zap.L().Info("report events enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	return env, nil
}

// initUploader connects to object storage.
func initUploader() (*storage.Uploader, error) {
	mc, err := storage.NewMinio(cfg.Storage)
	if err != nil {
		return nil, err
	}
	zap.L().Info("image storage enabled",
		zap.String("endpoint", cfg.Storage.Endpoint),
		zap.String("bucket", cfg.Storage.Bucket),
	)
	return storage.NewUploader(mc, cfg.Storage), nil
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}
