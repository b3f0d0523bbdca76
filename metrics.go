package relpipe

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus instruments for pipeline execution.
// Attach them to a scheduler via Middleware and StageMiddleware.
type Metrics struct {
	// RunsTotal counts finished runs by terminal status.
	RunsTotal *prometheus.CounterVec
	// RunDuration observes wall-clock run duration by terminal status.
	RunDuration *prometheus.HistogramVec
	// StageDuration observes wall-clock stage duration by stage name.
	StageDuration *prometheus.HistogramVec
	// ActiveRuns tracks the number of runs currently executing.
	ActiveRuns prometheus.Gauge
}

// NewMetrics creates and registers the pipeline instruments on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relpipe_runs_total",
			Help: "Finished pipeline runs by terminal status.",
		}, []string{"status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relpipe_run_duration_seconds",
			Help:    "Wall-clock duration of pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"status"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relpipe_stage_duration_seconds",
			Help:    "Wall-clock duration of pipeline stages.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"stage"}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relpipe_active_runs",
			Help: "Number of pipeline runs currently executing.",
		}),
	}
}

// Middleware returns run middleware that records run counts, durations and
// the active-run gauge.
func (m *Metrics) Middleware() Middleware {
	return func(next RunnerFunc) RunnerFunc {
		return func(ctx context.Context, run *PipelineRun, logger Logger) error {
			m.ActiveRuns.Inc()
			start := time.Now()

			err := next(ctx, run, logger)

			duration := time.Since(start)
			m.ActiveRuns.Dec()

			status := string(run.Status())
			m.RunsTotal.WithLabelValues(status).Inc()
			m.RunDuration.WithLabelValues(status).Observe(duration.Seconds())

			return err
		}
	}
}

// StageMiddleware returns stage middleware that records per-stage
// durations.
func (m *Metrics) StageMiddleware() StageMiddleware {
	return func(next StageRunnerFunc) StageRunnerFunc {
		return func(ctx context.Context, run *PipelineRun, stage *StageState, logger Logger) error {
			start := time.Now()
			err := next(ctx, run, stage, logger)
			m.StageDuration.WithLabelValues(stage.Stage.Name).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
