package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus instrumentation for the engine. A dedicated
// registry keeps the /metrics output limited to engine metrics.
type Metrics struct {
	registry *prometheus.Registry

	BacktestsStarted   prometheus.Counter
	BacktestsCompleted prometheus.Counter
	BacktestsFailed    prometheus.Counter
	BacktestDuration   prometheus.Histogram
	TradesExecuted     prometheus.Counter
}

// NewMetrics creates and registers the engine metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		BacktestsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_runs_started_total",
			Help: "Number of backtest runs started.",
		}),
		BacktestsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_runs_completed_total",
			Help: "Number of backtest runs completed successfully.",
		}),
		BacktestsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_runs_failed_total",
			Help: "Number of backtest runs that failed.",
		}),
		BacktestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Wall-clock duration of completed backtest runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		TradesExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_trades_executed_total",
			Help: "Number of simulated trades executed across all runs.",
		}),
	}
}

// Handler serves the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
