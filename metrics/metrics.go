// Package metrics exposes prometheus counters for the upload and query paths.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	chunksReceived   prometheus.Counter
	chunkBytes       prometheus.Counter
	uploadsCompleted *prometheus.CounterVec
	extractions      *prometheus.CounterVec
	queries          *prometheus.CounterVec
	sessionsSwept    prometheus.Counter
	ingestDuration   prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		chunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docdrop_chunks_received_total",
			Help: "Chunks accepted by the upload session manager.",
		}),
		chunkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docdrop_chunk_bytes_total",
			Help: "Bytes accepted across all chunks.",
		}),
		uploadsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docdrop_uploads_completed_total",
			Help: "Complete calls by result.",
		}, []string{"result"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docdrop_extractions_total",
			Help: "Extraction runs by result.",
		}, []string{"result"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docdrop_queries_total",
			Help: "Queries by outcome.",
		}, []string{"outcome"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docdrop_sessions_swept_total",
			Help: "Expired upload sessions removed by the sweeper.",
		}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docdrop_ingest_duration_seconds",
			Help:    "Time spent storing and extracting one file.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.chunksReceived,
		m.chunkBytes,
		m.uploadsCompleted,
		m.extractions,
		m.queries,
		m.sessionsSwept,
		m.ingestDuration,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ChunkReceived(size int) {
	if m == nil {
		return
	}
	m.chunksReceived.Inc()
	m.chunkBytes.Add(float64(size))
}

func (m *Metrics) UploadCompleted(result string) {
	if m == nil {
		return
	}
	m.uploadsCompleted.WithLabelValues(result).Inc()
}

func (m *Metrics) Extraction(result string) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(result).Inc()
}

func (m *Metrics) Query(outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsSwept.Add(float64(n))
}

func (m *Metrics) ObserveIngest(seconds float64) {
	if m == nil {
		return
	}
	m.ingestDuration.Observe(seconds)
}
