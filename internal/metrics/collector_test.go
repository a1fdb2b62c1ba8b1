package ckmetrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	ckmetrics "github.com/consolekit-go/ckd/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := ckmetrics.NewCollector(reg)

	if c.Sessions == nil {
		t.Error("Sessions is nil")
	}
	if c.Seats == nil {
		t.Error("Seats is nil")
	}
	if c.Inhibitors == nil {
		t.Error("Inhibitors is nil")
	}
	if c.PipelineRuns == nil {
		t.Error("PipelineRuns is nil")
	}
	if c.PipelineDuration == nil {
		t.Error("PipelineDuration is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestSessionSeatGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := ckmetrics.NewCollector(reg)

	c.SetSessions(3)
	if v := gaugeValue(t, c.Sessions); v != 3 {
		t.Errorf("Sessions = %v, want 3", v)
	}

	c.SetSeats(1)
	if v := gaugeValue(t, c.Seats); v != 1 {
		t.Errorf("Seats = %v, want 1", v)
	}

	c.SetSessions(0)
	if v := gaugeValue(t, c.Sessions); v != 0 {
		t.Errorf("Sessions = %v, want 0", v)
	}
}

func TestInhibitorGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := ckmetrics.NewCollector(reg)

	c.SetInhibitorCount("block", "shutdown", 2)
	val := gaugeVecValue(t, c.Inhibitors, "block", "shutdown")
	if val != 2 {
		t.Errorf("Inhibitors(block,shutdown) = %v, want 2", val)
	}

	c.SetInhibitorCount("delay", "sleep", 1)
	val = gaugeVecValue(t, c.Inhibitors, "delay", "sleep")
	if val != 1 {
		t.Errorf("Inhibitors(delay,sleep) = %v, want 1", val)
	}

	// Unrelated bucket stays untouched.
	val = gaugeVecValue(t, c.Inhibitors, "block", "shutdown")
	if val != 2 {
		t.Errorf("Inhibitors(block,shutdown) = %v, want unaffected 2", val)
	}
}

func TestPipelineObservation(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := ckmetrics.NewCollector(reg)

	c.ObservePipelineRun("PowerOff", "ok", 50*time.Millisecond)
	c.ObservePipelineRun("PowerOff", "ok", 75*time.Millisecond)
	c.ObservePipelineRun("Suspend", "inhibited", 0)

	if v := counterVecValue(t, c.PipelineRuns, "PowerOff", "ok"); v != 2 {
		t.Errorf("PipelineRuns(PowerOff,ok) = %v, want 2", v)
	}
	if v := counterVecValue(t, c.PipelineRuns, "Suspend", "inhibited"); v != 1 {
		t.Errorf("PipelineRuns(Suspend,inhibited) = %v, want 1", v)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func gaugeVecValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	g, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterVecValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
