// Package metrics содержит коллекторы Prometheus сервиса биллинга.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

const namespace = "billing"

var (
	// WebhookRequestsTotal считает вебхуки провайдера по типу события и HTTP-статусу.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Total payment provider webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration - время обработки вебхука.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Payment provider webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// ReconciliationsTotal считает сверки по типу события и исходу.
	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "reconciliations_total",
		Help:      "Total reconciled provider events by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// LedgerTransactionsTotal считает записанные транзакции журнала.
	LedgerTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "transactions_total",
		Help:      "Total ledger transactions appended by source and kind.",
	}, []string{"source_type", "transaction_type"})

	// SweepUsersTotal считает пользователей, изменённых проходом.
	SweepUsersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "users_total",
		Help:      "Total users affected by lifecycle sweep pass.",
	}, []string{"pass"})

	// SweepDuration - длительность полного прохода.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "duration_seconds",
		Help:      "Lifecycle sweep duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// SweepRunsTotal считает запуски прохода по исходу.
	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "runs_total",
		Help:      "Total lifecycle sweep runs by outcome.",
	}, []string{"outcome"})

	// NotificationsTotal считает уведомления по виду и исходу.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifier",
		Name:      "notifications_total",
		Help:      "Total notifications by kind and outcome.",
	}, []string{"kind", "outcome"})
)

// Исходы для меток outcome.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeIgnored = "ignored"
	OutcomeSkipped = "skipped"
)

// ObserveTransactions учитывает зафиксированные транзакции журнала.
func ObserveTransactions(txs []models.Transaction) {
	for _, t := range txs {
		LedgerTransactionsTotal.WithLabelValues(string(t.Source), string(t.Kind)).Inc()
	}
}
