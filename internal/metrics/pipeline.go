package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes.
const (
	OutcomeAccepted     = "accepted"
	OutcomeInvalid      = "invalid"
	OutcomeUploadFailed = "upload_failed"
	OutcomeStartFailed  = "start_failed"
)

// PipelineMetrics holds the operational metrics of the service. They live
// in a private registry so they never mix with the sighting exposition. A
// nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	registry *prometheus.Registry

	submissions        *prometheus.CounterVec
	stepErrors         *prometheus.CounterVec
	degradedLookups    prometheus.Counter
	narrativeFallbacks prometheus.Counter
	snapshots          *prometheus.CounterVec
	sinkSize           prometheus.Gauge
}

// NewPipelineMetrics registers the operational metrics on a new registry.
func NewPipelineMetrics() *PipelineMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PipelineMetrics{
		registry: reg,
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sightings_submissions_total",
			Help: "Report submissions by outcome",
		}, []string{"outcome"}),
		stepErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sightings_step_errors_total",
			Help: "Enrichment step failures by step and error kind",
		}, []string{"step", "kind"}),
		degradedLookups: factory.NewCounter(prometheus.CounterOpts{
			Name: "sightings_vessel_lookups_degraded_total",
			Help: "Vessel proximity lookups that fell back to an empty list",
		}),
		narrativeFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "sightings_narrative_fallbacks_total",
			Help: "Final reports that carry the fallback narrative",
		}),
		snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sightings_snapshots_total",
			Help: "Metrics snapshots appended to the sink by stage",
		}, []string{"stage"}),
		sinkSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sightings_sink_snapshots",
			Help: "Snapshots currently retained by the sink",
		}),
	}
}

// Submission counts one submission with the given outcome.
func (m *PipelineMetrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// StepError counts one failed step attempt.
func (m *PipelineMetrics) StepError(step, kind string) {
	if m == nil {
		return
	}
	m.stepErrors.WithLabelValues(step, kind).Inc()
}

// VesselLookupDegraded counts one proximity lookup replaced by an empty list.
func (m *PipelineMetrics) VesselLookupDegraded() {
	if m == nil {
		return
	}
	m.degradedLookups.Inc()
}

// NarrativeFallback counts one final report carrying the fallback narrative.
func (m *PipelineMetrics) NarrativeFallback() {
	if m == nil {
		return
	}
	m.narrativeFallbacks.Inc()
}

// SnapshotAppended counts an appended snapshot and records the sink size.
func (m *PipelineMetrics) SnapshotAppended(stage string, sinkLen int) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(stage).Inc()
	m.sinkSize.Set(float64(sinkLen))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *PipelineMetrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
