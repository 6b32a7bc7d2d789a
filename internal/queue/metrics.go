package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "brennholz"

// Depth gauges are approximations; Stats resets them from Redis.
var (
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Ready post-order tasks per kind.",
	}, []string{"kind"})

	QueueProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "queue",
		Name:      "processed_total",
		Help:      "Handler outcomes per kind (ok or failed).",
	}, []string{"kind", "status"})

	QueueDLQSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "queue",
		Name:      "dlq_size",
		Help:      "Dead lettered tasks per kind.",
	}, []string{"kind"})

	QueueRedeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "queue",
		Name:      "redelivered_total",
		Help:      "Tasks returned to ready after their visibility timeout lapsed.",
	}, []string{"kind"})

	QueueHandleSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "queue",
		Name:      "handle_seconds",
		Help:      "Handler run time per kind.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})
)

func observeHandled(kind string, started time.Time, err error) {
	QueueHandleSeconds.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	status := "ok"
	if err != nil {
		status = "failed"
	}
	QueueProcessedTotal.WithLabelValues(kind, status).Inc()
}
