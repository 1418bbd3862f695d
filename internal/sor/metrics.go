package sor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// TrackerMetrics mirrors the original's module-level _TrackerMetrics class,
// but as a per-Tracker instance: orders_tracked (gauge) and
// orders_finalized_total (counter, labeled by terminal state). Each Tracker
// owns its own registry so tests constructing multiple Trackers never
// collide on prometheus's default global registry (DESIGN.md Open Question
// #4).
type TrackerMetrics struct {
	mu        sync.Mutex
	registry  *prometheus.Registry
	tracked   prometheus.Gauge
	finalized *prometheus.CounterVec
}

// NewTrackerMetrics constructs a fresh, self-registered metrics instance.
func NewTrackerMetrics() *TrackerMetrics {
	registry := prometheus.NewRegistry()
	tracked := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orders_tracked",
		Help: "Number of orders currently held in the tracker's live map.",
	})
	finalized := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_finalized_total",
		Help: "Count of orders that reached a terminal state, by state.",
	}, []string{"state"})
	registry.MustRegister(tracked, finalized)
	return &TrackerMetrics{registry: registry, tracked: tracked, finalized: finalized}
}

// ObserveTracked sets the live-count gauge.
func (m *TrackerMetrics) ObserveTracked(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked.Set(float64(n))
}

// ObserveFinalized increments the finalized counter for the given state.
func (m *TrackerMetrics) ObserveFinalized(state OrderState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized.WithLabelValues(string(state)).Inc()
}

// Registry exposes the underlying prometheus registry so a gateway can
// federate it into a process-wide /metrics handler.
func (m *TrackerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Snapshot returns the current tracked gauge value and per-state finalized
// counts, useful for tests and the audit endpoint.
func (m *TrackerMetrics) Snapshot() (tracked float64, finalizedByState map[OrderState]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metricFamilies, err := m.registry.Gather()
	finalizedByState = make(map[OrderState]float64)
	if err != nil {
		return 0, finalizedByState
	}
	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "orders_tracked":
			for _, metric := range mf.GetMetric() {
				tracked = metric.GetGauge().GetValue()
			}
		case "orders_finalized_total":
			for _, metric := range mf.GetMetric() {
				var state OrderState
				for _, label := range metric.GetLabel() {
					if label.GetName() == "state" {
						state = OrderState(label.GetValue())
					}
				}
				finalizedByState[state] = metric.GetCounter().GetValue()
			}
		}
	}
	return tracked, finalizedByState
}
