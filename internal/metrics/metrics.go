package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_queued_total",
			Help: "Total emails added to the queue",
		},
	)

	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed delivery attempts, by resulting entry status",
		},
		[]string{"status"},
	)

	RepositoryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_queue_repository_errors_total",
			Help: "Queue repository operations that failed during processing",
		},
		[]string{"operation"},
	)

	PassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "email_queue_pass_duration_seconds",
			Help:    "Duration of queue processing passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	LastPassTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "email_queue_last_pass_timestamp_seconds",
			Help: "Unix time of the last completed processing pass",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "email_queue_entries",
			Help: "Queue entries by status, as of the last processing pass",
		},
		[]string{"status"},
	)
)

func Init() {
	prometheus.MustRegister(
		EmailsQueued,
		EmailsSent,
		EmailFailures,
		RepositoryErrors,
		PassDuration,
		LastPassTimestamp,
		QueueDepth,
	)
}
