// Package monitoring exposes Prometheus metrics of the placement service.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sliceorch/placement/internal/domain"
)

// Monitor records placement metrics. A nil *Monitor records nothing.
type Monitor struct {
	// Placement decisions by mode, zone and failure kind.
	requests *prometheus.CounterVec
	// How long a placement takes end to end.
	duration *prometheus.HistogramVec
	// Overload verdicts of the workers looked at.
	verdicts *prometheus.CounterVec
	// Worker samples accepted by the ingestion endpoint.
	ingested prometheus.Counter
}

// NewMonitor creates the metrics and registers them with registerer.
func NewMonitor(registerer prometheus.Registerer) *Monitor {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "placement_requests_total",
		Help: "Number of placement decisions by mode, zone and failure kind",
	}, []string{"mode", "zone", "failure"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "placement_duration_seconds",
		Help:    "Duration of placement decisions",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
	}, []string{"zone"})
	verdicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "placement_worker_verdicts_total",
		Help: "Number of sustained-overload verdicts by state",
	}, []string{"verdict"})
	ingested := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "placement_metrics_samples_ingested_total",
		Help: "Number of worker metrics samples ingested",
	})
	registerer.MustRegister(requests, duration, verdicts, ingested)

	return &Monitor{
		requests: requests,
		duration: duration,
		verdicts: verdicts,
		ingested: ingested,
	}
}

// ObservePlacement records one finished placement.
func (m *Monitor) ObservePlacement(plan *domain.PlacementPlan, took time.Duration) {
	if m == nil || plan == nil {
		return
	}
	failure := string(plan.Failure)
	if failure == "" {
		failure = "none"
	}
	m.requests.WithLabelValues(string(plan.Mode), plan.Zone, failure).Inc()
	m.duration.WithLabelValues(plan.Zone).Observe(took.Seconds())
	for _, v := range plan.Diagnostics.Overload {
		m.verdicts.WithLabelValues(string(v.State)).Inc()
	}
}

// ObserveIngest records accepted metrics samples.
func (m *Monitor) ObserveIngest(samples int) {
	if m == nil {
		return
	}
	m.ingested.Add(float64(samples))
}
