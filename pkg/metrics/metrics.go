// Package metrics exposes Prometheus collectors for the compile pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Compile results used as the "result" label.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Metrics groups the collectors of one process.
type Metrics struct {
	TemplatesCreated prometheus.Counter
	VariantsCreated  prometheus.Counter
	CompilesStarted  prometheus.Counter
	CompilesFinished *prometheus.CounterVec
	CompileSeconds   prometheus.Histogram
	LiveModels       prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TemplatesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "tangerine_templates_created_total",
			Help: "Program templates created by the spatial compiler",
		}),
		VariantsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "tangerine_variants_created_total",
			Help: "Program variants created by the spatial compiler",
		}),
		CompilesStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "tangerine_compiles_started_total",
			Help: "Shader compiles submitted to the backend",
		}),
		CompilesFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tangerine_compiles_finished_total",
			Help: "Shader compiles finished by result",
		}, []string{"result"}),
		CompileSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tangerine_compile_seconds",
			Help:    "Shader compile duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}),
		LiveModels: f.NewGauge(prometheus.GaugeOpts{
			Name: "tangerine_live_models",
			Help: "Models currently registered",
		}),
	}
}

// TemplatesAdded records n new templates.
func (m *Metrics) TemplatesAdded(n int) {
	if m == nil {
		return
	}
	m.TemplatesCreated.Add(float64(n))
}

// VariantsAdded records n new variants.
func (m *Metrics) VariantsAdded(n int) {
	if m == nil {
		return
	}
	m.VariantsCreated.Add(float64(n))
}

// CompileStarted records a submission.
func (m *Metrics) CompileStarted() {
	if m == nil {
		return
	}
	m.CompilesStarted.Inc()
}

// CompileFinished records a completed compile and its duration.
func (m *Metrics) CompileFinished(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultFailed
	}
	m.CompilesFinished.WithLabelValues(result).Inc()
	m.CompileSeconds.Observe(d.Seconds())
}

// SetLiveModels records the registry size.
func (m *Metrics) SetLiveModels(n int) {
	if m == nil {
		return
	}
	m.LiveModels.Set(float64(n))
}
