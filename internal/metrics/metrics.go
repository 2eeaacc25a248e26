// Package metrics exposes the prometheus collectors the dispatcher
// updates on every state transition. These are purely observational —
// nothing in the scheduling core reads them back.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// QueueDepth is the number of runs currently waiting to be
	// matched to a context.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "basin",
		Name:      "queue_depth",
		Help:      "Number of runs waiting in the dispatcher queue.",
	})

	// BusyExecutors tracks the busy count per context.
	BusyExecutors = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "basin",
		Name:      "context_busy_executors",
		Help:      "Number of executors currently occupied, per context.",
	}, []string{"context"})

	// RunsTotal counts completed runs by terminal result.
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basin",
		Name:      "runs_total",
		Help:      "Total completed runs, labeled by result.",
	}, []string{"result"})
)

// Registry is a dedicated registry rather than the global default, so
// internal/core can wire it into an HTTP exporter (or not) without
// every import of this package polluting process-wide metrics state.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(QueueDepth, BusyExecutors, RunsTotal)
}
