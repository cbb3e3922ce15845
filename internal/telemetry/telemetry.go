package telemetry

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry collects pipeline metrics and exposes them for scraping. A nil
// *Telemetry is valid and records nothing, so callers never need to guard.
type Telemetry struct {
	logger   *log.Logger
	registry *prometheus.Registry

	analyses        *prometheus.CounterVec
	analysisSeconds prometheus.Histogram
	issuesPerRun    prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
	modelCalls      *prometheus.CounterVec
	modelSeconds    prometheus.Histogram
	streamEvents    *prometheus.CounterVec
}

// New builds a telemetry instance with its own registry so tests can create
// as many as they like without duplicate-registration panics.
func New() *Telemetry {
	reg := prometheus.NewRegistry()
	t := &Telemetry{
		logger:   log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		registry: reg,
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newscheck_analyses_total",
			Help: "Completed analyses by result.",
		}, []string{"result"}),
		analysisSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newscheck_analysis_duration_seconds",
			Help:    "Wall time of one analysis run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		issuesPerRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newscheck_issues_per_analysis",
			Help:    "Issues found per analysis run.",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newscheck_cache_lookups_total",
			Help: "Cache lookups by outcome.",
		}, []string{"outcome"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newscheck_model_calls_total",
			Help: "LLM calls by outcome.",
		}, []string{"outcome"}),
		modelSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newscheck_model_call_duration_seconds",
			Help:    "Latency of individual LLM calls.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newscheck_stream_events_total",
			Help: "Stream events emitted by type.",
		}, []string{"type"}),
	}
	reg.MustRegister(t.analyses, t.analysisSeconds, t.issuesPerRun, t.cacheLookups, t.modelCalls, t.modelSeconds, t.streamEvents)
	return t
}

// Handler exposes the metrics endpoint for this instance.
func (t *Telemetry) Handler() http.Handler {
	if t == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// RecordAnalysis records one finished analysis run.
func (t *Telemetry) RecordAnalysis(result string, dur time.Duration, issues int) {
	if t == nil {
		return
	}
	t.analyses.WithLabelValues(result).Inc()
	t.analysisSeconds.Observe(dur.Seconds())
	if result == "success" {
		t.issuesPerRun.Observe(float64(issues))
	}
	t.logger.Printf("analysis result=%s duration=%v issues=%d", result, dur, issues)
}

// RecordCacheLookup records a cache lookup outcome (hit, miss, stale).
func (t *Telemetry) RecordCacheLookup(outcome string) {
	if t == nil {
		return
	}
	t.cacheLookups.WithLabelValues(outcome).Inc()
}

// RecordModelCall records one LLM call.
func (t *Telemetry) RecordModelCall(outcome string, dur time.Duration) {
	if t == nil {
		return
	}
	t.modelCalls.WithLabelValues(outcome).Inc()
	t.modelSeconds.Observe(dur.Seconds())
}

// RecordStreamEvent records one emitted stream event.
func (t *Telemetry) RecordStreamEvent(kind string) {
	if t == nil {
		return
	}
	t.streamEvents.WithLabelValues(kind).Inc()
}
