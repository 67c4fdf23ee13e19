// Package metrics exports replica activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/jsonsync/internal/merge"
	"github.com/roach88/jsonsync/internal/op"
)

const namespace = "jsonsync"

// Metrics implements replica.Recorder on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	localEdits    *prometheus.CounterVec
	merges        prometheus.Counter
	mergeOps      *prometheus.CounterVec
	skippedGroups prometheus.Counter
	failedUndos   prometheus.Counter
	rollbackDepth prometheus.Histogram
	malformed     prometheus.Counter
	collisions    prometheus.Counter
}

// New registers every collector on a fresh registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		localEdits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_edits_total",
			Help:      "Local edits by operation kind and whether they changed content.",
		}, []string{"kind", "applied"}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Diffs merged, including chained local edits.",
		}),
		mergeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_ops_total",
			Help:      "Operations seen by the merge engine, by outcome.",
		}, []string{"outcome"}),
		skippedGroups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_transactions_total",
			Help:      "Transaction groups left unapplied during replay.",
		}),
		failedUndos: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_undos_total",
			Help:      "Inverse operations that did not apply during rollback.",
		}),
		rollbackDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rollback_depth",
			Help:      "Applied entries undone per merge.",
			Buckets:   []float64{0, 1, 2, 5, 10, 50, 100, 500, 1000},
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Received messages that did not decode.",
		}),
		collisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_collisions_total",
			Help:      "Identity collisions raised by edits or merges.",
		}),
	}
	m.registry.MustRegister(
		m.localEdits, m.merges, m.mergeOps, m.skippedGroups,
		m.failedUndos, m.rollbackDepth, m.malformed, m.collisions,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LocalEdit(kind op.Kind, applied bool) {
	m.localEdits.WithLabelValues(string(kind), strconv.FormatBool(applied)).Inc()
}

func (m *Metrics) Merged(stats merge.Stats) {
	m.merges.Inc()
	m.mergeOps.WithLabelValues("incoming").Add(float64(stats.Incoming))
	m.mergeOps.WithLabelValues("duplicate").Add(float64(stats.Duplicates))
	m.mergeOps.WithLabelValues("rolled_back").Add(float64(stats.RolledBack))
	m.mergeOps.WithLabelValues("replayed").Add(float64(stats.Replayed))
	m.skippedGroups.Add(float64(stats.SkippedGroups))
	m.failedUndos.Add(float64(stats.FailedUndos))
	m.rollbackDepth.Observe(float64(stats.RolledBack))
}

func (m *Metrics) MalformedMessage() {
	m.malformed.Inc()
}

func (m *Metrics) IdentityCollision() {
	m.collisions.Inc()
}
