package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for generation runs.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	RunsInFlight        prometheus.Gauge
	AttemptsPerRun      prometheus.Histogram
	StageDuration       *prometheus.HistogramVec
	PortRetriesTotal    *prometheus.CounterVec
	GateDivergenceTotal prometheus.Counter
}

// NewMetrics returns the process-wide run metrics, registering them on
// first use so repeated calls never panic on duplicate registration.
//
// Metrics:
//   - assessd_runs_total{status,reason} - finalized runs
//   - assessd_runs_in_flight - runs currently executing
//   - assessd_run_attempts - attempts recorded per run
//   - assessd_stage_duration_seconds{stage} - time spent per state
//   - assessd_port_retries_total{kind} - schema/port retries
//   - assessd_gate_divergence_total - reviewer pass flags overruled by the gate
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "assessd_runs_total",
					Help: "Total number of finalized generation runs",
				},
				[]string{"status", "reason"},
			),
			RunsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "assessd_runs_in_flight",
					Help: "Generation runs currently executing",
				},
			),
			AttemptsPerRun: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "assessd_run_attempts",
					Help:    "Attempts recorded per finalized run",
					Buckets: []float64{0, 1, 2, 3},
				},
			),
			StageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "assessd_stage_duration_seconds",
					Help:    "Duration of each run stage in seconds",
					Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
				},
				[]string{"stage"},
			),
			PortRetriesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "assessd_port_retries_total",
					Help: "Total number of retried port calls",
				},
				[]string{"kind"},
			),
			GateDivergenceTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "assessd_gate_divergence_total",
					Help: "Reviews whose pass flag disagreed with the gate",
				},
			),
		}
	})
	return globalMetrics
}
