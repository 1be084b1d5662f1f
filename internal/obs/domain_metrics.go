package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// OrdersPlacedTotal counts order placement attempts by result.
	OrdersPlacedTotal *prometheus.CounterVec
	// OfferEvaluationsTotal counts offer evaluations by result (ok or the rejection reason).
	OfferEvaluationsTotal *prometheus.CounterVec
	// OfferRedemptionsTotal counts conditional usage increments by result.
	OfferRedemptionsTotal *prometheus.CounterVec
	// StockConflictsTotal counts placements aborted by a failed conditional stock decrement.
	StockConflictsTotal prometheus.Counter
	// PaymentIntentTotal counts payment intent creation attempts.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// TasksProcessedTotal counts background tasks handled by the worker.
	TasksProcessedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		OrdersPlacedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Count of order placement outcomes.",
		}, []string{"result"})
		OfferEvaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offer_evaluations_total",
			Help:      "Count of offer evaluations by outcome.",
		}, []string{"result"})
		OfferRedemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offer_redemptions_total",
			Help:      "Count of offer usage increments by outcome.",
		}, []string{"result"})
		StockConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_conflicts_total",
			Help:      "Number of placements rejected by the conditional stock decrement.",
		})
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent processing outcomes.",
		}, []string{"provider", "result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})
		TasksProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Count of background tasks by type and outcome.",
		}, []string{"type", "result"})

		OrdersPlacedTotal = registerOrReuse(reg, OrdersPlacedTotal)
		OfferEvaluationsTotal = registerOrReuse(reg, OfferEvaluationsTotal)
		OfferRedemptionsTotal = registerOrReuse(reg, OfferRedemptionsTotal)
		PaymentIntentTotal = registerOrReuse(reg, PaymentIntentTotal)
		PaymentWebhookTotal = registerOrReuse(reg, PaymentWebhookTotal)
		TasksProcessedTotal = registerOrReuse(reg, TasksProcessedTotal)
		StockConflictsTotal = registerOrReuse(reg, StockConflictsTotal)
	})
}

// Inc increments the labelled counter when metrics are registered. Packages call it
// unconditionally so tests can run without a registry.
func Inc(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// IncCounter is the unlabelled variant of Inc.
func IncCounter(c prometheus.Counter) {
	if c == nil {
		return
	}
	c.Inc()
}
