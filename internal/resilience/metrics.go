package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker collectors carry a target label naming the collaborator, such as
// "analytics" or "loyalty".
var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "brennholz",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Breaker state: 0 closed, 1 open, 2 half-open.",
	}, []string{"target"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brennholz",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Breaker state changes.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brennholz",
		Subsystem: "breaker",
		Name:      "opened_total",
		Help:      "Times a breaker opened.",
	}, []string{"target"})
)
