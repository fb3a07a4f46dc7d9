package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's prometheus collectors
type Metrics struct {
	Submissions   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Jobs          *prometheus.CounterVec
	Segments      *prometheus.CounterVec
	InflightKeys  prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates and registers the collectors on reg. A nil reg uses a fresh
// private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yt_pipeline_submissions_total",
			Help: "Submissions by admission result.",
		}, []string{"result"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yt_pipeline_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage", "outcome"}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yt_pipeline_jobs_total",
			Help: "Finished jobs by outcome.",
		}, []string{"outcome"}),
		Segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yt_pipeline_segments_total",
			Help: "Transcribed segments by result.",
		}, []string{"result"}),
		InflightKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yt_pipeline_inflight_keys",
			Help: "Entries currently held by the admission controller.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(m.Submissions, m.StageDuration, m.Jobs, m.Segments, m.InflightKeys)
	return m
}

// ObserveStage records how long stage took
func (m *Metrics) ObserveStage(stage string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.StageDuration.WithLabelValues(stage, outcome).Observe(time.Since(started).Seconds())
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Submitted counts one submission with the given admission result
func (m *Metrics) Submitted(result string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(result).Inc()
}

// JobFinished counts one job reaching a terminal state
func (m *Metrics) JobFinished(outcome string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(outcome).Inc()
}

// SegmentFinished counts one transcribed segment
func (m *Metrics) SegmentFinished(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Segments.WithLabelValues(result).Inc()
}

// SetInflight reports the admission controller size
func (m *Metrics) SetInflight(n int) {
	if m == nil {
		return
	}
	m.InflightKeys.Set(float64(n))
}
