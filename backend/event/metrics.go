package event

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomePublished = "published"
	outcomeDelivered = "delivered"
	outcomeDropped   = "dropped"
)

// busMetrics counts events per type and outcome. A nil *busMetrics records
// nothing, so buses built without a registry skip the label lookups.
type busMetrics struct {
	events *prometheus.CounterVec
}

func newBusMetrics(registry *prometheus.Registry, queueLength func() int) *busMetrics {
	if registry == nil {
		return nil
	}

	metrics := &busMetrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batchinfer",
				Subsystem: "events",
				Name:      "total",
				Help:      "Batch events by type and outcome (published, delivered, dropped on a full queue).",
			},
			[]string{"event_type", "outcome"},
		),
	}

	registry.MustRegister(
		metrics.events,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "batchinfer",
				Subsystem: "events",
				Name:      "queue_length",
				Help:      "Events waiting for a worker.",
			},
			func() float64 { return float64(queueLength()) },
		),
	)

	return metrics
}

func (m *busMetrics) record(eventType, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
}
