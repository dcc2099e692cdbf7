package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fraud_worker"

var (
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Transaction messages handed to the batch handler",
		},
		[]string{"source"},
	)

	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processed_total",
			Help:      "Transactions delivered to a channel",
		},
		[]string{"channel"},
	)

	MessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_total",
			Help:      "Messages that ended without a delivery, by failure kind",
		},
		[]string{"kind"},
	)

	Evaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Evaluation outcomes",
		},
		[]string{"outcome"},
	)

	RuleFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_fired_total",
			Help:      "Rules that flagged a transaction",
		},
		[]string{"rule"},
	)

	RuleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_errors_total",
			Help:      "Rule evaluation errors absorbed by the failure policy",
		},
		[]string{"rule"},
	)

	DispatchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_retries_total",
			Help:      "Dispatch attempts beyond the first",
		},
		[]string{"channel"},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Failed publish attempts by channel and error code",
		},
		[]string{"channel", "code"},
	)

	PublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Latency of a single publish attempt",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	WorkflowLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "End-to-end latency from received to a terminal state",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"state"},
	)

	DLQPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dlq_total",
			Help:      "Messages sent to the DLQ by reason",
		},
		[]string{"reason"},
	)

	DLQPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dlq_publish_failures_total",
			Help:      "Failed messages that could not be parked in the DLQ after all retries",
		},
	)

	CommitStalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_stalls_total",
			Help:      "Times a partition's commit floor was pinned by an unparked message",
		},
		[]string{"topic"},
	)

	InflightMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_messages",
			Help:      "Messages currently being processed",
		},
	)
)
