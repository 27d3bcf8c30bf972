// Package metrics provides Prometheus metrics collection for hrsync runs
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Outcomes shared by the counters
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
	OutcomeRejected  = "rejected"
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeDeleted   = "deleted"
	OutcomeMissing   = "missing"
	OutcomeRetained  = "retained"
	OutcomeDropped   = "dropped"
)

// Recorder holds the run metrics on its own registry so that a one-shot
// process can push them when it ends
type Recorder struct {
	registry *prometheus.Registry

	filesTotal      *prometheus.CounterVec
	rowsTotal       *prometheus.CounterVec
	operationsTotal *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	lastRun         *prometheus.GaugeVec
}

// NewRecorder registers the hrsync metrics on a fresh registry
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		filesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hrsync",
				Name:      "files_total",
				Help:      "Total number of extract files handled",
			},
			[]string{"kind", "outcome"}, // outcome: processed, aborted, rejected
		),
		rowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hrsync",
				Name:      "rows_total",
				Help:      "Total number of extract rows dispatched",
			},
			[]string{"kind", "outcome"}, // outcome: processed, failed
		),
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hrsync",
				Name:      "operations_total",
				Help:      "Total number of pending operations applied to the directory",
			},
			[]string{"type", "outcome"},
		),
		phaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "hrsync",
				Name:      "phase_duration_seconds",
				Help:      "Duration of a run phase in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"phase", "outcome"},
		),
		lastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "hrsync",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last successful phase",
			},
			[]string{"phase"},
		),
	}
}

// Registry returns the registry the metrics live on
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordFile counts one extract file
func (r *Recorder) RecordFile(kind, outcome string) {
	r.filesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordRow counts one extract row
func (r *Recorder) RecordRow(kind, outcome string) {
	r.rowsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordOperations adds n pending operations of a type and outcome
func (r *Recorder) RecordOperations(opType, outcome string, n int) {
	if n <= 0 {
		return
	}
	r.operationsTotal.WithLabelValues(opType, outcome).Add(float64(n))
}

// RecordPhase observes the phase duration and, on success, stamps the phase
func (r *Recorder) RecordPhase(phase string, started time.Time, err error) {
	outcome := OutcomeProcessed
	if err != nil {
		outcome = OutcomeFailed
	}
	r.phaseDuration.WithLabelValues(phase, outcome).Observe(time.Since(started).Seconds())
	if err == nil {
		r.lastRun.WithLabelValues(phase).SetToCurrentTime()
	}
}

// Push sends the registry to a Pushgateway, replacing the job's metrics
func (r *Recorder) Push(ctx context.Context, url, job, instance string) error {
	pusher := push.New(url, job).Gatherer(r.registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	return pusher.PushContext(ctx)
}
