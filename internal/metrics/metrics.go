// Package metrics exposes prometheus counters for the decision pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_bot_signals_total",
		Help: "Signals produced by the generator, by symbol and side.",
	}, []string{"symbol", "side"})

	IntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_bot_intents_total",
		Help: "Order intents by terminal status.",
	}, []string{"status"})

	SkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_bot_skips_total",
		Help: "Gatekeeper skips by reason code.",
	}, []string{"reason"})

	ExchangeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_bot_exchange_errors_total",
		Help: "Classified exchange errors.",
	}, []string{"reason"})

	ReconcilePassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_bot_reconcile_passes_total",
		Help: "Completed reconciliation passes.",
	})

	AutoClosesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_bot_auto_closes_total",
		Help: "Emergency market closes after failed bracket placement.",
	})

	NotifyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_bot_notify_failures_total",
		Help: "Notification deliveries that had to be retried.",
	})
)
