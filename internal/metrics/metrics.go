package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the pipeline's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	issuesSummarized prometheus.Counter
	engineFailures   prometheus.Counter
	batchDuration    prometheus.Histogram
	artifactWrites   *prometheus.CounterVec
	artifactBytes    *prometheus.CounterVec
	mirrorFailures   prometheus.Counter
	resolutions      *prometheus.CounterVec
	bundles          *prometheus.CounterVec
	downloads        *prometheus.CounterVec
	auditFailures    prometheus.Counter
	runs             *prometheus.CounterVec
	lastRunTS        prometheus.Gauge
	limiterWait      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.issuesSummarized = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "issuedigest",
		Name:      "issues_summarized_total",
		Help:      "Issues that received a generated summary",
	})
	m.engineFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "issuedigest",
		Name:      "engine_failures_total",
		Help:      "Per-item summarization failures",
	})
	m.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "issuedigest",
		Name:      "batch_duration_seconds",
		Help:      "Wall time of one batch summarization",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	m.artifactWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "issuedigest",
		Name:      "artifact_writes_total",
		Help:      "Artifact files persisted by format and result",
	}, []string{"format", "result"})
	m.artifactBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "issuedigest",
		Name:      "artifact_bytes_total",
		Help:      "Bytes of artifact content persisted by format",
	}, []string{"format"})
	m.mirrorFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "issuedigest",
		Name:      "artifact_mirror_failures_total",
		Help:      "Artifact uploads to a mirror store that failed",
	})
	m.resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "issuedigest",
		Name:      "resolutions_total",
		Help:      "Latest-artifact lookups by format and result",
	}, []string{"format", "result"})
	m.bundles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "issuedigest",
		Name:      "bundles_total",
		Help:      "Bundle requests by outcome (built, cached, empty, error)",
	}, []string{"outcome"})
	m.downloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "issuedigest",
		Name:      "downloads_total",
		Help:      "Served downloads by format",
	}, []string{"format"})
	m.auditFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "issuedigest",
		Name:      "audit_write_failures_total",
		Help:      "Download events that could not be appended to the audit log",
	})
	m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "issuedigest",
		Name:      "pipeline_runs_total",
		Help:      "Pipeline runs by result",
	}, []string{"result"})
	m.lastRunTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "issuedigest",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last complete artifact set",
	})
	m.limiterWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "issuedigest",
		Name:      "llm_rate_limit_wait_seconds",
		Help:      "Time a summarization call waited for the provider rate budget",
		Buckets:   []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"client"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.issuesSummarized, m.engineFailures, m.batchDuration,
		m.artifactWrites, m.artifactBytes, m.mirrorFailures,
		m.resolutions, m.bundles, m.downloads, m.auditFailures,
		m.runs, m.lastRunTS, m.limiterWait,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IssueSummarized() {
	if m != nil {
		m.issuesSummarized.Inc()
	}
}

func (m *Metrics) EngineFailure() {
	if m != nil {
		m.engineFailures.Inc()
	}
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	if m != nil {
		m.batchDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ArtifactWritten(format string, size int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.artifactWrites.WithLabelValues(format, "error").Inc()
		return
	}
	m.artifactWrites.WithLabelValues(format, "ok").Inc()
	m.artifactBytes.WithLabelValues(format).Add(float64(size))
}

// LimiterWait matches llm.WaitFunc.
func (m *Metrics) LimiterWait(client string, waited time.Duration) {
	if m != nil {
		m.limiterWait.WithLabelValues(client).Observe(waited.Seconds())
	}
}

func (m *Metrics) MirrorFailed() {
	if m != nil {
		m.mirrorFailures.Inc()
	}
}

func (m *Metrics) Resolved(format string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "miss"
	}
	m.resolutions.WithLabelValues(format, result).Inc()
}

func (m *Metrics) Bundle(outcome string) {
	if m != nil {
		m.bundles.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Download(format string) {
	if m != nil {
		m.downloads.WithLabelValues(format).Inc()
	}
}

func (m *Metrics) AuditFailure() {
	if m != nil {
		m.auditFailures.Inc()
	}
}

func (m *Metrics) Run(complete bool, at time.Time) {
	if m == nil {
		return
	}
	if !complete {
		m.runs.WithLabelValues("failed").Inc()
		return
	}
	m.runs.WithLabelValues("complete").Inc()
	m.lastRunTS.Set(float64(at.Unix()))
}
