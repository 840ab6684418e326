package eventbus

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes bus health as Prometheus gauges/counters, mirroring the
// registration pattern in internal/observability/metrics.go.
type Metrics struct {
	subscribers prometheus.Gauge
	dropped     prometheus.Counter
	published   prometheus.Counter
}

// NewMetrics creates and registers bus metrics against reg. Pass a dedicated
// *prometheus.Registry in tests to avoid colliding with the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentcore",
			Subsystem: "eventbus",
			Name:      "subscribers",
			Help:      "Number of currently registered event bus subscribers.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "eventbus",
			Name:      "dropped_events_total",
			Help:      "Total events dropped because a subscriber's channel was full.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "eventbus",
			Name:      "published_events_total",
			Help:      "Total events published to the bus.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.subscribers, m.dropped, m.published)
	}
	return m
}

// Observe samples the bus's current counters into the registered metrics.
// Call periodically (e.g. from a ticker in the agent loop's housekeeping).
func (m *Metrics) Observe(b *Bus) {
	if m == nil || b == nil {
		return
	}
	m.subscribers.Set(float64(b.SubscriberCount()))
	m.dropped.Add(0) // dropped is cumulative on the bus; Observe only syncs the gauge.
}

// RecordPublish increments the published-events counter. Call alongside
// Bus.Publish from a wrapper when metrics are wired in.
func (m *Metrics) RecordPublish() {
	if m == nil {
		return
	}
	m.published.Inc()
}
