package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Record outcomes
const (
	OutcomeForwarded = "forwarded"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Notification outcomes
const (
	OutcomeSent     = "sent"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeDropped  = "dropped"
)

var (
	// Pipeline Metrics
	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunnel_batches_total",
		Help: "The total number of change batches delivered per table",
	}, []string{"table"})
	RecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunnel_records_total",
		Help: "Change records processed per table, by outcome",
	}, []string{"table", "outcome"})
	CheckpointErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunnel_checkpoint_errors_total",
		Help: "The total number of failed checkpoint commits per table",
	}, []string{"table"})

	// Notifier Metrics
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunnel_notifications_total",
		Help: "Callback notifications per kind, by outcome",
	}, []string{"kind", "outcome"})
	NotificationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tunnel_notification_latency_seconds",
		Help:    "Latency of callback HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	NotifierQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tunnel_notifier_queue_depth",
		Help: "Notifications waiting for a free dispatch worker",
	})
)
