// Package metrics содержит счётчики Prometheus для движка подписок:
// результаты рассылки на узлы, применённые платежи и синтезированные
// платёжные записи.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProvisionAttempts считает попытки рассылки по узлам и исходам.
	ProvisionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vacvpn_provision_attempts_total",
		Help: "Provisioning attempts per node, action and outcome.",
	}, []string{"node", "action", "outcome"})

	// PaymentsApplied считает платежи, доведённые до терминального статуса.
	PaymentsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vacvpn_payments_applied_total",
		Help: "Payments reconciled to a terminal status.",
	}, []string{"type", "status"})

	// PaymentsSynthesized считает платёжные записи, восстановленные из
	// уведомления шлюза без локального оригинала.
	PaymentsSynthesized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vacvpn_payments_synthesized_total",
		Help: "Payment records synthesized from gateway events with no local match.",
	})

	// SubscriptionsExpired считает подписки, исчерпанные списанием дней.
	SubscriptionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vacvpn_subscriptions_expired_total",
		Help: "Subscriptions that reached zero remaining days.",
	})
)
