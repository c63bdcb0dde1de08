// Package metrics exposes Prometheus collectors for download sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "video_downloader"

// Collector groups the service metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	sessionsCreated  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	downloadDuration *prometheus.HistogramVec
	artifactsServed  prometheus.Counter
	metadataRequests *prometheus.CounterVec
	filesRemoved     *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Download sessions created.",
		}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Download sessions that reached a terminal status.",
		}, []string{"status"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "yt-dlp processes currently running.",
		}),
		downloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Time from launch to terminal status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
		artifactsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_served_total",
			Help:      "Artifacts handed to clients.",
		}),
		metadataRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_requests_total",
			Help:      "Metadata probes by result kind.",
		}, []string{"result"}),
		filesRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_removed_total",
			Help:      "Output files deleted, by cleanup path.",
		}, []string{"reason"}),
	}

	c.registry.MustRegister(
		c.sessionsCreated,
		c.sessionsFinished,
		c.sessionsActive,
		c.downloadDuration,
		c.artifactsServed,
		c.metadataRequests,
		c.filesRemoved,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsCreated.Inc()
	c.sessionsActive.Inc()
}

func (c *Collector) SessionFinished(status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
	c.sessionsFinished.WithLabelValues(status).Inc()
	c.downloadDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (c *Collector) ArtifactServed() {
	if c == nil {
		return
	}
	c.artifactsServed.Inc()
}

func (c *Collector) MetadataRequest(result string) {
	if c == nil {
		return
	}
	c.metadataRequests.WithLabelValues(result).Inc()
}

func (c *Collector) FilesRemoved(reason string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.filesRemoved.WithLabelValues(reason).Add(float64(n))
}
