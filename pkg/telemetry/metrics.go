package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the ingestion front door and the pipeline.
var (
	CommentsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcart_comments_ingested_total",
			Help: "Comments accepted by ingestion (audited and enqueued)",
		},
	)

	CommentsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcart_comments_rejected_total",
			Help: "Comments rejected synchronously by payload validation",
		},
	)

	QueueFullTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcart_queue_full_total",
			Help: "Pushes rejected because a per-key queue was at capacity",
		},
	)

	QueueExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcart_queue_expired_total",
			Help: "Entries dropped by TTL before processing (comment stays in the audit log)",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamcart_queue_depth",
			Help: "In-memory work queue entries across all keys",
		},
	)

	StageOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcart_stage_outcomes_total",
			Help: "Terminal pipeline stage reached per processed comment",
		},
		[]string{"stage"},
	)

	GatewayRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcart_gateway_retries_total",
			Help: "Transient-failure retries per gateway",
		},
		[]string{"gateway"},
	)

	OrdersCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcart_orders_created_total",
			Help: "Orders created by the pipeline",
		},
	)

	DuplicateOrdersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcart_duplicate_orders_total",
			Help: "Order attempts resolved as idempotent no-ops via the trace store",
		},
	)

	DeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streamcart_dead_letters_total",
			Help: "Entries routed to the dead-letter sink",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcart_notifications_total",
			Help: "Notification delivery attempts by status",
		},
		[]string{"status"},
	)

	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamcart_pipeline_duration_seconds",
			Help:    "End-to-end processing time per dequeued entry",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all pipeline metrics with the default registry.
func Register() {
	prometheus.MustRegister(CommentsIngestedTotal)
	prometheus.MustRegister(CommentsRejectedTotal)
	prometheus.MustRegister(QueueFullTotal)
	prometheus.MustRegister(QueueExpiredTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(StageOutcomesTotal)
	prometheus.MustRegister(GatewayRetriesTotal)
	prometheus.MustRegister(OrdersCreatedTotal)
	prometheus.MustRegister(DuplicateOrdersTotal)
	prometheus.MustRegister(DeadLettersTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(PipelineDuration)
	registerHTTP()
}
