package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketing_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_db_tx_retries_total",
			Help: "Transactions retried after a serialization failure",
		},
	)

	TicketsReserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_tickets_reserved_total",
			Help: "Tickets reserved, by outcome",
		},
		[]string{"outcome"},
	)

	TicketsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_tickets_released_total",
			Help: "Tickets released by compensating actions",
		},
		[]string{"reason"},
	)

	PaymentCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_payment_callbacks_total",
			Help: "Payment processor notifications, by kind and result",
		},
		[]string{"kind", "result"},
	)

	PublishJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_publish_jobs_total",
			Help: "Publish scheduler operations",
		},
		[]string{"operation"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketing_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
