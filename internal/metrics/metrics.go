package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the live feed pipeline.
type Metrics struct {
	RecordsReceived  prometheus.Counter
	MalformedRecords prometheus.Counter
	DuplicateRecords prometheus.Counter
	Resubscribes     prometheus.Counter
	EventsBroadcast  prometheus.Counter
	DeliveryFailures prometheus.Counter
	ActiveSessions   prometheus.Gauge
	NotifyDispatches *prometheus.CounterVec
}

func build() *Metrics {
	return &Metrics{
		RecordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feed",
			Name:      "records_total",
			Help:      "Raw insert records received from the change feed.",
		}),
		MalformedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feed",
			Name:      "malformed_total",
			Help:      "Records dropped for missing required fields.",
		}),
		DuplicateRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feed",
			Name:      "duplicates_total",
			Help:      "Replayed records suppressed by the dedupe window.",
		}),
		Resubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feed",
			Name:      "resubscribes_total",
			Help:      "Subscription retries after a feed error.",
		}),
		EventsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "broadcast",
			Name:      "events_total",
			Help:      "Alert events published to connected sessions.",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "broadcast",
			Name:      "delivery_failures_total",
			Help:      "Per-session deliveries that failed and removed the session.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "broadcast",
			Name:      "sessions",
			Help:      "Currently connected observer sessions.",
		}),
		NotifyDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "dispatch_total",
			Help:      "Notification dispatches by outcome.",
		}, []string{"outcome"}),
	}
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	m := build()
	prometheus.MustRegister(
		m.RecordsReceived,
		m.MalformedRecords,
		m.DuplicateRecords,
		m.Resubscribes,
		m.EventsBroadcast,
		m.DeliveryFailures,
		m.ActiveSessions,
		m.NotifyDispatches,
	)
	return m
}

// NewForTesting creates metrics without registering them, so tests can build
// as many as they like.
func NewForTesting() *Metrics {
	return build()
}
