package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.ExecutionStarted()
	m.ObserveAgentCall("handoff", 10*time.Millisecond)
	m.IncHandoff()
	m.ObserveAgentCall("terminal", 10*time.Millisecond)
	m.ObserveExecution(true, 2, time.Second)
	m.IncStreamFrame("sse", "text")
	m.IncStreamFrame("sse", "text")

	if got := testutil.ToFloat64(m.executions.WithLabelValues("success")); got != 1 {
		t.Fatalf("executions success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeExecutions); got != 0 {
		t.Fatalf("active executions = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.handoffs); got != 1 {
		t.Fatalf("handoffs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.streamFrames.WithLabelValues("sse", "text")); got != 2 {
		t.Fatalf("frames = %v, want 2", got)
	}
}

func TestMustNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNewMetrics(reg)
	b := MustNewMetrics(reg)

	a.IncHandoff()
	if got := testutil.ToFloat64(b.handoffs); got != 1 {
		t.Fatalf("second instance should share collectors, got %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ExecutionStarted()
	m.ObserveExecution(false, 1, time.Millisecond)
	m.IncStreamFrame("ui", "finish")
	m.IncWatchdogExpiry("ui")
}
