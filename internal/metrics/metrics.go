// Package metrics provides Prometheus collectors for script execution.
// All methods are safe on a nil *Recorder so callers can leave metrics
// unconfigured.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the module's collectors.
type Recorder struct {
	executions *prometheus.CounterVec
	toolCalls  *prometheus.CounterVec
	running    prometheus.Gauge
	duration   prometheus.Histogram
}

// NewRecorder registers the collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptrun",
			Name:      "executions_total",
			Help:      "Completed script executions by outcome.",
		}, []string{"outcome"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptrun",
			Name:      "tool_calls_total",
			Help:      "Intercepted tool calls by gateway decision.",
		}, []string{"decision"}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "scriptrun",
			Name:      "executions_running",
			Help:      "Executions currently holding a worker unit.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scriptrun",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of script executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
}

// ExecutionStarted marks one execution as running.
func (r *Recorder) ExecutionStarted() {
	if r == nil {
		return
	}
	r.running.Inc()
}

// ExecutionFinished records the outcome and duration of one execution.
func (r *Recorder) ExecutionFinished(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.running.Dec()
	r.executions.WithLabelValues(outcome).Inc()
	r.duration.Observe(d.Seconds())
}

// ToolCall records one gateway decision.
func (r *Recorder) ToolCall(allowed bool) {
	if r == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	r.toolCalls.WithLabelValues(decision).Inc()
}
