/**
 * @description
 * This file declares the Prometheus collectors for the redeem-service. All
 * collectors are registered with the default registry via promauto and exposed
 * on /metrics by the API router.
 *
 * @dependencies
 * - github.com/prometheus/client_golang: Prometheus instrumentation library.
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of jobs waiting in the submission queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redeem_queue_depth",
		Help: "Number of jobs currently waiting in the submission queue.",
	})

	// JobsProcessed counts finished jobs by terminal status.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redeem_jobs_processed_total",
		Help: "Total jobs processed by the worker pool, labelled by terminal status.",
	}, []string{"status"})

	// CodesProcessed counts per-code terminal outcomes.
	CodesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redeem_codes_processed_total",
		Help: "Total redemption codes reaching a terminal outcome.",
	}, []string{"outcome"})

	// WebhookNotifications counts payment gateway notifications by outcome.
	WebhookNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_notifications_total",
		Help: "Total payment gateway notifications processed, labelled by outcome.",
	}, []string{"outcome"})

	// TopupAmountCredited sums the amounts credited from successful top-ups.
	TopupAmountCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_topup_credited_amount_total",
		Help: "Total amount credited to user balances from successful top-ups.",
	})
)
