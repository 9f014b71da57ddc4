package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server records index server activity
type Server struct {
	Requests  *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	Documents prometheus.Gauge
	Commits   prometheus.Counter
	Committed prometheus.Counter
	Ready     prometheus.Gauge
}

// NewServer registers index server metrics with reg
func NewServer(reg prometheus.Registerer) *Server {
	f := promauto.With(reg)
	return &Server{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "code"},
		),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		Documents: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "documents",
				Help:      "Number of committed documents",
			},
		),
		Commits: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "commits_total",
				Help:      "Total number of index commits",
			},
		),
		Committed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "committed_changes_total",
				Help:      "Total number of writes made visible by commits",
			},
		),
		Ready: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "ready",
				Help:      "Index readiness (1 = ready, 0 = indexing)",
			},
		),
	}
}

// RecordRequest records one handled request
func (m *Server) RecordRequest(endpoint string, code int, d time.Duration) {
	m.Requests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	m.Duration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordCommit records a commit that applied n writes and left docs documents
func (m *Server) RecordCommit(n, docs int) {
	m.Commits.Inc()
	m.Committed.Add(float64(n))
	m.Documents.Set(float64(docs))
}

// SetReady flips the readiness gauge
func (m *Server) SetReady(ready bool) {
	if ready {
		m.Ready.Set(1)
		return
	}
	m.Ready.Set(0)
}

// Handler serves the registry in the Prometheus exposition format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
