// Package metrics registers the Prometheus collectors for sessions and the
// numeric stages of an analysis run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
)

const namespace = "hydroindex"

// Stage labels.
const (
	StageGrid        = "grid"
	StageInterpolate = "interpolate"
	StageIndex       = "index"
	StageZonal       = "zonal"
	StageReport      = "report"
)

// Cleanup reasons.
const (
	ReasonExplicit = "explicit"
	ReasonExpired  = "expired"
	ReasonOrphan   = "orphan"
)

var (
	// SessionsActive is the number of sessions currently in the registry.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "active",
		Help:      "Sessions currently registered",
	})

	// SessionsCreated counts created sessions.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "created_total",
		Help:      "Total sessions created",
	})

	// SessionsCleaned counts removed session workspaces.
	// Labels: reason (explicit, expired, orphan)
	SessionsCleaned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "cleaned_total",
		Help:      "Total session workspaces removed",
	}, []string{"reason"})

	// StageDuration measures numeric stage latency.
	// Labels: stage
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "stage_duration_seconds",
		Help:      "Analysis stage duration in seconds",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"stage"})

	// ParametersExcluded counts parameters left out of a composite.
	// Labels: reason
	ParametersExcluded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "parameters_excluded_total",
		Help:      "Total parameters excluded from composite indices",
	}, []string{"reason"})
)

// ObserveStage records the time elapsed since start for stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordCleanup counts n removed workspaces for reason.
func RecordCleanup(reason string, n int) {
	if n > 0 {
		SessionsCleaned.WithLabelValues(reason).Add(float64(n))
	}
}

// WriteTextfile writes every registered collector to path in the text
// exposition format, for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return eris.Wrapf(err, "metrics: write textfile %s", path)
	}
	return nil
}
