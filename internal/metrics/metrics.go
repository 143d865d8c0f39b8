// Package metrics exposes the control plane's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthchat",
		Subsystem: "cp",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "healthchat",
		Subsystem: "cp",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// ReconcileTotal counts reconciliation attempts by event type and outcome.
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthchat",
		Subsystem: "cp",
		Name:      "reconcile_total",
		Help:      "Subscription reconciliation attempts by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// OrgsByStatus tracks the number of organizations per subscription status.
	OrgsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "healthchat",
		Subsystem: "cp",
		Name:      "orgs_by_status",
		Help:      "Number of organizations by subscription status.",
	}, []string{"status"})

	// ExpiredSubscriptionsTotal counts subscriptions flipped inactive by the
	// expiry sweeper.
	ExpiredSubscriptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "healthchat",
		Subsystem: "cp",
		Name:      "expired_subscriptions_total",
		Help:      "Subscriptions marked inactive after their expiry passed.",
	})
)
