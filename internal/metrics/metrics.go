package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Ingest outcomes used as the "result" label of portfolio_ingest_visits_total.
const (
	ResultRecorded      = "recorded"
	ResultNotConfigured = "not_configured"
	ResultRateLimited   = "rate_limited"
	ResultError         = "error"
)

// Metrics holds the Prometheus collectors for the service. All methods are
// safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	// HTTP server metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ingest metrics
	IngestVisitsTotal  *prometheus.CounterVec
	IngestNewVisitors  prometheus.Counter
	IngestDuration     prometheus.Histogram
	LastVisitTimestamp prometheus.Gauge

	// Aggregation metrics
	StatsDuration        prometheus.Histogram
	StatsErrorsTotal     prometheus.Counter
	VisitLogDroppedTotal prometheus.Counter
}

// New creates the collectors. Call Register to expose them.
func New() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "portfolio",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "portfolio",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		IngestVisitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "portfolio",
				Subsystem: "ingest",
				Name:      "visits_total",
				Help:      "Page visits received, by outcome",
			},
			[]string{"result"},
		),
		IngestNewVisitors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "portfolio",
				Subsystem: "ingest",
				Name:      "new_visitors_total",
				Help:      "Visits from visitors not seen before site-wide",
			},
		),
		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "portfolio",
				Subsystem: "ingest",
				Name:      "duration_seconds",
				Help:      "Time spent writing one visit to the store",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		LastVisitTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "portfolio",
				Subsystem: "ingest",
				Name:      "last_visit_timestamp_seconds",
				Help:      "Unix timestamp of the last recorded visit",
			},
		),
		StatsDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "portfolio",
				Subsystem: "stats",
				Name:      "duration_seconds",
				Help:      "Time spent assembling a dashboard snapshot",
				Buckets:   prometheus.DefBuckets,
			},
		),
		StatsErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "portfolio",
				Subsystem: "stats",
				Name:      "errors_total",
				Help:      "Snapshot requests that failed",
			},
		),
		VisitLogDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "portfolio",
				Subsystem: "stats",
				Name:      "visit_log_dropped_total",
				Help:      "Visit log entries skipped because they could not be decoded",
			},
		),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.IngestVisitsTotal,
		m.IngestNewVisitors,
		m.IngestDuration,
		m.LastVisitTimestamp,
		m.StatsDuration,
		m.StatsErrorsTotal,
		m.VisitLogDroppedTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordVisit records a successfully stored visit.
func (m *Metrics) RecordVisit(durationSec float64, newVisitor bool, unixTS float64) {
	if m == nil {
		return
	}
	m.IngestVisitsTotal.WithLabelValues(ResultRecorded).Inc()
	m.IngestDuration.Observe(durationSec)
	m.LastVisitTimestamp.Set(unixTS)
	if newVisitor {
		m.IngestNewVisitors.Inc()
	}
}

// RecordVisitSkipped records a visit that was not stored, with the reason.
func (m *Metrics) RecordVisitSkipped(result string) {
	if m == nil {
		return
	}
	m.IngestVisitsTotal.WithLabelValues(result).Inc()
}

// RecordStats records a snapshot computation.
func (m *Metrics) RecordStats(durationSec float64, err error) {
	if m == nil {
		return
	}
	m.StatsDuration.Observe(durationSec)
	if err != nil {
		m.StatsErrorsTotal.Inc()
	}
}

// RecordVisitLogDropped counts undecodable visit log entries.
func (m *Metrics) RecordVisitLogDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.VisitLogDroppedTotal.Add(float64(n))
}
