package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutSubmissions counts checkout submit outcomes by result code.
	CheckoutSubmissions *prometheus.CounterVec
	// CheckoutDuration records submit latency in milliseconds.
	CheckoutDuration *prometheus.HistogramVec
	// StockConflicts counts order lines rejected by the inventory gate.
	StockConflicts *prometheus.CounterVec
	// SideEffectsTotal counts post-order side effect outcomes by kind.
	SideEffectsTotal *prometheus.CounterVec
	// OrderStatusTransitions counts applied order status changes.
	OrderStatusTransitions *prometheus.CounterVec
	// StockReconciled counts products whose cached stock was corrected.
	StockReconciled prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_submissions_total",
			Help:      "Count of checkout submissions by outcome.",
		}, []string{"result"})
		CheckoutDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_submit_duration_ms",
			Help:      "Latency of checkout submissions in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		StockConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_stock_conflicts_total",
			Help:      "Count of order lines rejected for insufficient stock.",
		}, []string{"reason"})
		SideEffectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_side_effects_total",
			Help:      "Count of post-order side effect outcomes.",
		}, []string{"kind", "result"})
		OrderStatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Count of order status transitions.",
		}, []string{"from", "to"})
		StockReconciled = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_reconciled_total",
			Help:      "Number of products whose stored stock was corrected from the ledger.",
		})

		CheckoutSubmissions = register(reg, CheckoutSubmissions)
		CheckoutDuration = register(reg, CheckoutDuration)
		StockConflicts = register(reg, StockConflicts)
		SideEffectsTotal = register(reg, SideEffectsTotal)
		OrderStatusTransitions = register(reg, OrderStatusTransitions)
		StockReconciled = register(reg, StockReconciled)
	})
}

// ObserveCheckout records a checkout outcome when metrics are registered.
func ObserveCheckout(result string, millis float64) {
	if CheckoutSubmissions != nil {
		CheckoutSubmissions.WithLabelValues(result).Inc()
	}
	if CheckoutDuration != nil {
		CheckoutDuration.WithLabelValues(result).Observe(millis)
	}
}

// ObserveStockConflict increments the stock conflict counter.
func ObserveStockConflict(reason string) {
	if StockConflicts != nil {
		StockConflicts.WithLabelValues(reason).Inc()
	}
}

// ObserveSideEffect increments the side effect counter.
func ObserveSideEffect(kind, result string) {
	if SideEffectsTotal != nil {
		SideEffectsTotal.WithLabelValues(kind, result).Inc()
	}
}

// ObserveStatusTransition increments the order status transition counter.
func ObserveStatusTransition(from, to string) {
	if OrderStatusTransitions != nil {
		OrderStatusTransitions.WithLabelValues(from, to).Inc()
	}
}

// ObserveReconciled adds n corrected products to the reconcile counter.
func ObserveReconciled(n int) {
	if StockReconciled != nil && n > 0 {
		StockReconciled.Add(float64(n))
	}
}
