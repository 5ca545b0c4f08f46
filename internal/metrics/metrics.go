// Package metrics counts recovery outcomes on a private Prometheus registry
// and writes them in the node-exporter textfile format at the end of a run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "importance_shift"

// Recorder holds one run's collectors. A nil *Recorder is valid and records nothing.
type Recorder struct {
	reg *prometheus.Registry

	// units counts processed units.
	// Labels: action (recovered, extrapolated, skipped, failed), kind (error kind or "")
	units *prometheus.CounterVec

	// oracleLatency measures oracle round trips.
	// Labels: status (ok, error)
	oracleLatency *prometheus.HistogramVec

	// massRatio tracks recovered/baseline mass for successful recomputations.
	massRatio prometheus.Histogram

	// evalCosine tracks cosine error per evaluated variant.
	// Labels: variant
	evalCosine *prometheus.HistogramVec
}

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		units: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "units_total",
			Help:      "Recovery units by outcome",
		}, []string{"action", "kind"}),
		oracleLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "latency_seconds",
			Help:      "Oracle completion latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"status"}),
		massRatio: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "shift",
			Name:      "mass_ratio",
			Help:      "Recovered mass over baseline mass",
			Buckets:   []float64{0.25, 0.5, 0.75, 0.9, 1, 1.1, 1.25, 1.5, 2, 4},
		}),
		evalCosine: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "eval",
			Name:      "cosine_error",
			Help:      "Cosine error against ground truth",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 2},
		}, []string{"variant"}),
	}
}

// Registry exposes the private registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

func (r *Recorder) ObserveUnit(action, kind string) {
	if r == nil {
		return
	}
	r.units.WithLabelValues(action, kind).Inc()
}

func (r *Recorder) ObserveOracle(d time.Duration, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.oracleLatency.WithLabelValues(status).Observe(d.Seconds())
}

func (r *Recorder) ObserveMassRatio(baseline, recovered float64) {
	if r == nil || baseline <= 0 {
		return
	}
	r.massRatio.Observe(recovered / baseline)
}

func (r *Recorder) ObserveEval(variant string, cosineError float64) {
	if r == nil {
		return
	}
	r.evalCosine.WithLabelValues(variant).Observe(cosineError)
}

// WriteTextfile writes every collector to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.reg)
}
