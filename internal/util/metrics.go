package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_validations_total",
		Help: "Total number of webhook signature validations",
	}, []string{"environment", "result"})

	WebhookValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_validation_failures_total",
		Help: "Webhook validation failures by reason",
	}, []string{"reason"})

	WebhookValidationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_validation_duration_seconds",
		Help:    "Wall-clock cost of webhook signature validation",
		Buckets: prometheus.DefBuckets,
	})

	WebhookEventsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_events_deduplicated_total",
		Help: "Webhook deliveries dropped as already processed",
	})

	PaymentsSyncedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_synced_total",
		Help: "Payments reconciled from Square by sync type",
	}, []string{"sync_type"})

	PaymentsSyncFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_sync_failed_total",
		Help: "Payments that failed to reconcile",
	}, []string{"sync_type"})

	PaymentSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_sync_duration_seconds",
		Help:    "Duration of payment sync runs",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	OrphanedOrdersRelinked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orphaned_orders_relinked_total",
		Help: "Local orders relinked to Square payments by the fallback sync",
	})

	CatalogItemsSyncedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_items_synced_total",
		Help: "Catalog items upserted from Square",
	})

	CatalogItemsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_items_failed_total",
		Help: "Catalog items that failed to sync",
	})

	CatalogSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_sync_duration_seconds",
		Help:    "Duration of catalog sync runs",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	ImageProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "image_probes_total",
		Help: "Image URL existence probes by outcome",
	}, []string{"outcome"})

	SquareAPIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "square_api_requests_total",
		Help: "Requests to the Square API",
	}, []string{"endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
