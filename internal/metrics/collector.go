// Package ckmetrics exposes the daemon's Prometheus metrics: session and
// seat counts, inhibitor-lock counts per (mode, event), and the
// system-action pipeline's invocation counter and duration histogram.
package ckmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const namespace = "ckd"

// Label names.
const (
	labelMode   = "mode"
	labelEvent  = "event"
	labelAction = "action"
	labelResult = "result"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Daemon Metrics
// -------------------------------------------------------------------------

// Collector holds every metric the daemon exposes.
//
//   - Sessions/Seats gauges track the live tables owned by the manager.
//   - Inhibitors tracks the count of held locks per (mode, event) bucket,
//     the same axes the pipeline gates system actions on.
//   - PipelineRuns/PipelineDuration instrument the system-action pipeline:
//     one counter per (action, result), one histogram of begin-to-reply
//     latency.
type Collector struct {
	// Sessions tracks the number of currently registered sessions.
	Sessions prometheus.Gauge

	// Seats tracks the number of currently registered seats.
	Seats prometheus.Gauge

	// Inhibitors tracks currently-held inhibitor locks, labeled by mode
	// ("block"/"delay") and event ("shutdown"/"sleep"/"idle"/...).
	Inhibitors *prometheus.GaugeVec

	// PipelineRuns counts every system-action pipeline run, labeled by
	// action name and result ("ok"/"error"/"denied"/"inhibited"/"busy").
	PipelineRuns *prometheus.CounterVec

	// PipelineDuration observes the wall-clock time from Begin to the
	// fire path completing, labeled by action.
	PipelineDuration *prometheus.HistogramVec
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.Seats,
		c.Inhibitors,
		c.PipelineRuns,
		c.PipelineDuration,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of currently registered sessions.",
		}),

		Seats: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seats",
			Help:      "Number of currently registered seats.",
		}),

		Inhibitors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inhibitors",
			Help:      "Number of currently held inhibitor locks, by mode and event.",
		}, []string{labelMode, labelEvent}),

		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total system-action pipeline runs, by action and result.",
		}, []string{labelAction, labelResult}),

		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time from Begin to fire-path completion, by action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{labelAction}),
	}
}

// -------------------------------------------------------------------------
// Session / Seat Gauges
// -------------------------------------------------------------------------

// SetSessions sets the sessions gauge to n, called after any table change.
func (c *Collector) SetSessions(n int) {
	c.Sessions.Set(float64(n))
}

// SetSeats sets the seats gauge to n, called after any table change.
func (c *Collector) SetSeats(n int) {
	c.Seats.Set(float64(n))
}

// -------------------------------------------------------------------------
// Inhibitors
// -------------------------------------------------------------------------

// SetInhibitorCount sets the held-lock count for a (mode, event) bucket.
func (c *Collector) SetInhibitorCount(mode, event string, n int) {
	c.Inhibitors.WithLabelValues(mode, event).Set(float64(n))
}

// -------------------------------------------------------------------------
// Pipeline
// -------------------------------------------------------------------------

// ObservePipelineRun records one pipeline run's outcome and duration.
func (c *Collector) ObservePipelineRun(action, result string, d time.Duration) {
	c.PipelineRuns.WithLabelValues(action, result).Inc()
	c.PipelineDuration.WithLabelValues(action).Observe(d.Seconds())
}
