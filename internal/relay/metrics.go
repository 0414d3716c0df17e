package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relaygram"

var (
	queuesGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "queues",
			Help:      "Tracked queues by state",
		},
		[]string{"state"},
	)

	pendingItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "pending_items",
			Help:      "Item ids awaiting delivery as counted by the last drain tick",
		},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by profile, item kind and status",
		},
		[]string{"profile", "kind", "status"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "delivery_duration_seconds",
			Help:      "Time spent in the delivery sink",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"profile"},
	)

	deferrals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "drain_deferrals_total",
			Help:      "Queues skipped because their profile was still sending",
		},
		[]string{"profile"},
	)

	drainedQueues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "drained_queues_total",
			Help:      "Queues converted into delivery timers",
		},
		[]string{"profile"},
	)

	collaboratorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "errors_total",
			Help:      "Collaborator failures by operation",
		},
		[]string{"op"},
	)
)

func recordDelivery(profile string, it Item, err error, took time.Duration) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	deliveries.WithLabelValues(profile, itemKind(it), status).Inc()
	deliveryDuration.WithLabelValues(profile).Observe(took.Seconds())
}

func recordError(op string) {
	collaboratorErrors.WithLabelValues(op).Inc()
}

// recordQueueStats refreshes the queue gauges from the registry.
func recordQueueStats(st *SchedulerState) {
	open, closed := 0, 0
	for _, q := range st.queues {
		if q.Open {
			open++
		} else {
			closed++
		}
	}
	queuesGauge.WithLabelValues("open").Set(float64(open))
	queuesGauge.WithLabelValues("closed").Set(float64(closed))
}
