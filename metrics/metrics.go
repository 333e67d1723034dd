// Package metrics exposes the Prometheus collectors for executions, agent
// calls and stream adapters. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentrelay"

// Metrics groups the collectors reported by agentrelay.
type Metrics struct {
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	iterations        prometheus.Histogram
	agentCalls        *prometheus.CounterVec
	agentCallDuration *prometheus.HistogramVec
	handoffs          prometheus.Counter
	duplicateTasks    prometheus.Counter
	activeExecutions  prometheus.Gauge
	streamFrames      *prometheus.CounterVec
	watchdogExpiries  *prometheus.CounterVec
}

// MustNewMetrics registers the collectors with reg (the default registerer
// when nil). Collectors that are already registered are reused; any other
// registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		executions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "executions_total",
			Help:      "Executions by outcome.",
		}, []string{"outcome"})),
		executionDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of an execution.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"})),
		iterations: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "iterations",
			Help:      "Agent calls per execution.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		})),
		agentCalls: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "agent_calls_total",
			Help:      "Agent calls by classified response.",
		}, []string{"outcome"})),
		agentCallDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "agent_call_duration_seconds",
			Help:      "Round trip time of an agent call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"})),
		handoffs: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "handoffs_total",
			Help:      "Hand-offs between agents.",
		})),
		duplicateTasks: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "duplicate_tasks_total",
			Help:      "Task creations recovered by fetching the existing row.",
		})),
		activeExecutions: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "executions_active",
			Help:      "Executions currently in flight.",
		})),
		streamFrames: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Frames written by stream adapters.",
		}, []string{"adapter", "frame"})),
		watchdogExpiries: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "watchdog_expiries_total",
			Help:      "Adapters closed by the lifetime watchdog.",
		}, []string{"adapter"})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// ExecutionStarted marks an execution as in flight.
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.activeExecutions.Inc()
}

// ObserveExecution records a finished execution.
func (m *Metrics) ObserveExecution(success bool, iterations int, d time.Duration) {
	if m == nil {
		return
	}
	m.activeExecutions.Dec()
	m.executions.WithLabelValues(outcome(success)).Inc()
	m.executionDuration.WithLabelValues(outcome(success)).Observe(d.Seconds())
	m.iterations.Observe(float64(iterations))
}

// ObserveAgentCall records one agent round trip.
func (m *Metrics) ObserveAgentCall(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.agentCalls.WithLabelValues(outcome).Inc()
	m.agentCallDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncHandoff counts a transfer of control.
func (m *Metrics) IncHandoff() {
	if m == nil {
		return
	}
	m.handoffs.Inc()
}

// IncDuplicateTask counts a recovered duplicate task creation.
func (m *Metrics) IncDuplicateTask() {
	if m == nil {
		return
	}
	m.duplicateTasks.Inc()
}

// IncStreamFrame counts one frame written by an adapter.
func (m *Metrics) IncStreamFrame(adapter, frame string) {
	if m == nil {
		return
	}
	m.streamFrames.WithLabelValues(adapter, frame).Inc()
}

// IncWatchdogExpiry counts an adapter closed by its watchdog.
func (m *Metrics) IncWatchdogExpiry(adapter string) {
	if m == nil {
		return
	}
	m.watchdogExpiries.WithLabelValues(adapter).Inc()
}
