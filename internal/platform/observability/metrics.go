package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_engine_signals_detected_total",
		Help: "The total number of signals detected by kind and outcome",
	}, []string{"kind", "outcome"})

	DetectionCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signal_engine_detection_cycle_duration_seconds",
		Help:    "Duration of one detection component run",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"kind"})

	DetectionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_engine_detection_item_failures_total",
		Help: "The total number of per-item failures during detection",
	}, []string{"kind"})

	ActiveClusters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signal_engine_active_clusters",
		Help: "Number of active cluster buy signals after the last cycle",
	})

	NotificationsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_engine_notifications_queued_total",
		Help: "The total number of notifications queued by signal kind",
	}, []string{"kind"})

	NotificationsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_engine_notifications_skipped_total",
		Help: "The total number of notifications skipped during orchestration by reason",
	}, []string{"reason"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_engine_notifications_sent_total",
		Help: "The total number of notification deliveries by status",
	}, []string{"status"})

	QueueBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signal_engine_notification_queue_pending",
		Help: "Number of pending entries in the notification queue",
	})

	DigestsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_engine_digests_total",
		Help: "The total number of digest sends by status",
	}, []string{"status"})

	MailSendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signal_engine_mail_send_duration_seconds",
		Help:    "Duration of outbound mail sends",
		Buckets: prometheus.DefBuckets,
	})

	MailBreakerOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_engine_mail_breaker_opens_total",
		Help: "Total number of times the mail circuit breaker opened",
	})
)
