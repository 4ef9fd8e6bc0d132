package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects agenda scheduling metrics.
//
// Metrics exposed (all namespaced with "agenda_"):
//
//  1. queue_depth (gauge): pending activations per group.
//  2. activations_added_total (counter): admitted activations per group.
//  3. activations_cancelled_total (counter): activations removed before firing.
//  4. activations_fired_total (counter): activations handed to the firer.
//  5. stale_discarded_total (counter): activations dropped by the recency check.
//  6. group_clears_total (counter): bulk clears per group.
//  7. actions_executed_total (counter): deferred actions executed, by type.
//
// All methods are nil-safe so an agenda without metrics pays only a nil check.
// Prometheus collectors are safe for concurrent use.
type Metrics struct {
	depth     *prometheus.GaugeVec
	added     *prometheus.CounterVec
	cancelled *prometheus.CounterVec
	fired     *prometheus.CounterVec
	stale     *prometheus.CounterVec
	clears    *prometheus.CounterVec
	actions   *prometheus.CounterVec
}

// NewMetrics creates and registers all agenda metrics with registry.
// A nil registry uses prometheus.DefaultRegisterer.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	ag := engine.New(engine.WithMetrics(engine.NewMetrics(registry)))
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		depth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agenda",
			Name:      "queue_depth",
			Help:      "Number of pending activations in the agenda group",
		}, []string{"group"}),
		added: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Name:      "activations_added_total",
			Help:      "Activations admitted to the agenda group",
		}, []string{"group"}),
		cancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Name:      "activations_cancelled_total",
			Help:      "Activations removed from the agenda group before firing",
		}, []string{"group"}),
		fired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Name:      "activations_fired_total",
			Help:      "Activations handed to the rule firer",
		}, []string{"group"}),
		stale: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Name:      "stale_discarded_total",
			Help:      "Activations discarded because their stamp predates the last clear",
		}, []string{"group"}),
		clears: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Name:      "group_clears_total",
			Help:      "Bulk clears of the agenda group",
		}, []string{"group"}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Name:      "actions_executed_total",
			Help:      "Deferred actions executed by the agenda",
		}, []string{"type"}),
	}
}

func (m *Metrics) activationAdded(group string, depth int) {
	if m == nil {
		return
	}
	m.added.WithLabelValues(group).Inc()
	m.depth.WithLabelValues(group).Set(float64(depth))
}

func (m *Metrics) activationCancelled(group string, depth int) {
	if m == nil {
		return
	}
	m.cancelled.WithLabelValues(group).Inc()
	m.depth.WithLabelValues(group).Set(float64(depth))
}

func (m *Metrics) activationFired(group string) {
	if m == nil {
		return
	}
	m.fired.WithLabelValues(group).Inc()
}

func (m *Metrics) staleDiscarded(group string) {
	if m == nil {
		return
	}
	m.stale.WithLabelValues(group).Inc()
}

func (m *Metrics) groupCleared(group string) {
	if m == nil {
		return
	}
	m.clears.WithLabelValues(group).Inc()
	m.depth.WithLabelValues(group).Set(0)
}

func (m *Metrics) queueDepth(group string, depth int) {
	if m == nil {
		return
	}
	m.depth.WithLabelValues(group).Set(float64(depth))
}

func (m *Metrics) actionExecuted(kind string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kind).Inc()
}
