// Package metrics exposes the ingestion Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"log-ingest/internal/domain"
)

const namespace = "log_ingest"

var ingestLabels = []string{"endpoint", "status", "organization", "stream", "stream_type"}

// Metrics holds the collectors recorded by the ingestion pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// HTTPResponseTime is the ingestion request latency in seconds.
	HTTPResponseTime *prometheus.HistogramVec
	// HTTPIncomingRequests counts completed ingestion requests.
	HTTPIncomingRequests *prometheus.CounterVec
	// IngestRecords counts records by outcome (successful, failed).
	IngestRecords *prometheus.CounterVec
	// TransformErrors counts records dropped by a transform.
	TransformErrors *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		HTTPResponseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_time_seconds",
			Help:      "Ingestion response time in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, ingestLabels),
		HTTPIncomingRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_incoming_requests_total",
			Help:      "Total ingestion requests",
		}, ingestLabels),
		IngestRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_records_total",
			Help:      "Total ingested records by outcome",
		}, []string{"organization", "stream", "stream_type", "outcome"}),
		TransformErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_dropped_records_total",
			Help:      "Records dropped by a stream transform",
		}, []string{"organization", "stream", "stream_type"}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one completed ingestion request.
func (m *Metrics) ObserveRequest(endpoint, status string, params domain.StreamParams, took time.Duration) {
	labels := prometheus.Labels{
		"endpoint":     endpoint,
		"status":       status,
		"organization": params.OrgID,
		"stream":       params.StreamName,
		"stream_type":  params.StreamType.String(),
	}
	m.HTTPResponseTime.With(labels).Observe(took.Seconds())
	m.HTTPIncomingRequests.With(labels).Inc()
}

// ObserveRecords adds the per-stream record outcome counts.
func (m *Metrics) ObserveRecords(params domain.StreamParams, status domain.RecordStatus) {
	org, stream, typ := params.OrgID, params.StreamName, params.StreamType.String()
	m.IngestRecords.WithLabelValues(org, stream, typ, "successful").Add(float64(status.Successful))
	m.IngestRecords.WithLabelValues(org, stream, typ, "failed").Add(float64(status.Failed))
}

// TransformDropped counts one record dropped by a transform chain.
func (m *Metrics) TransformDropped(params domain.StreamParams) {
	m.TransformErrors.WithLabelValues(params.OrgID, params.StreamName, params.StreamType.String()).Inc()
}
