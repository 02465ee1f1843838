// Package metrics exposes Prometheus collectors for a backup run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the backup.
type Metrics struct {
	Registry              *prometheus.Registry
	RequestsTotal         *prometheus.CounterVec
	RequestDuration       prometheus.Histogram
	ArticlesExportedTotal prometheus.Counter
	AttachmentsTotal      *prometheus.CounterVec
	VideosTotal           prometheus.Counter
	PathCollisionsTotal   prometheus.Counter
	ErrorsTotal           *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kb_backup_requests_total",
			Help: "Total HTTP requests issued against the help center.",
		},
		[]string{"endpoint"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kb_backup_request_duration_seconds",
			Help:    "HTTP request latency for help center requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	exported := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kb_backup_articles_exported_total",
			Help: "Total number of articles written to disk.",
		},
	)
	attachments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kb_backup_attachments_total",
			Help: "Attachments by outcome.",
		},
		[]string{"outcome"},
	)
	videos := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kb_backup_videos_total",
			Help: "Embedded video links discovered in article bodies.",
		},
	)
	collisions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kb_backup_path_collisions_total",
			Help: "Articles whose output directory was already claimed by another article.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kb_backup_errors_total",
			Help: "Total number of upstream errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, exported, attachments, videos, collisions, errorsTotal)

	return &Metrics{
		Registry:              registry,
		RequestsTotal:         requests,
		RequestDuration:       requestDuration,
		ArticlesExportedTotal: exported,
		AttachmentsTotal:      attachments,
		VideosTotal:           videos,
		PathCollisionsTotal:   collisions,
		ErrorsTotal:           errorsTotal,
	}
}

// IncRequest increments the requests counter for an endpoint label.
func (m *Metrics) IncRequest(endpoint string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncExported increments the exported articles counter.
func (m *Metrics) IncExported() {
	if m == nil {
		return
	}
	m.ArticlesExportedTotal.Inc()
}

// IncAttachment counts an attachment outcome: saved, failed or skipped.
func (m *Metrics) IncAttachment(outcome string) {
	if m == nil {
		return
	}
	m.AttachmentsTotal.WithLabelValues(outcome).Inc()
}

// AddVideos adds discovered video links.
func (m *Metrics) AddVideos(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.VideosTotal.Add(float64(n))
}

// IncCollision increments the path collision counter.
func (m *Metrics) IncCollision() {
	if m == nil {
		return
	}
	m.PathCollisionsTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
