package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StockReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_received_units_total",
		Help: "Total units received into inventory",
	}, []string{"mode"})

	StockConsumedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_consumed_units_total",
		Help: "Total units drawn down from batches",
	})

	StockOperationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_operations_failed_total",
		Help: "Total number of failed inventory ledger operations",
	}, []string{"operation", "reason"})

	LowStockDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "low_stock_detected_total",
		Help: "Total number of stock mutations that left a product low or out of stock",
	})

	StockCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_cache_misses_total",
		Help: "Stock level reads that fell back to the database",
	})

	OrdersSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_submitted_total",
		Help: "Total number of orders submitted",
	})

	OrdersReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_replayed_total",
		Help: "Total number of order submissions answered from an idempotency key",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order submissions",
	}, []string{"reason"})

	OrderSubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_submit_latency_seconds",
		Help:    "Latency of order submission including persistence",
		Buckets: prometheus.DefBuckets,
	})

	VerificationPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verification_polls_total",
		Help: "Total number of email verification polls",
	}, []string{"result"})

	VerificationOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verification_outcomes_total",
		Help: "Final outcome of verification waits",
	}, []string{"outcome"})

	OnboardingCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_completed_total",
		Help: "Profile completions by path",
	}, []string{"path"})

	EmailsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emails_sent_total",
		Help: "Total number of transactional emails by template and status",
	}, []string{"template", "status"})

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
