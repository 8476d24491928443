package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "irrigation_"

	resultSuccess = "success"
	resultDropped = "dropped"
	resultError   = "error"
)

// Wait-ack outcomes.
const (
	WaitOutcomeAck     = "ack"
	WaitOutcomeTimeout = "timeout"
)

var (
	registerOnce sync.Once

	messagesHandled *prometheus.CounterVec

	commandsPublished    *prometheus.CounterVec
	commandPublishErrors *prometheus.CounterVec

	acksReceived      *prometheus.CounterVec
	ackCleanupDeleted prometheus.Counter

	shadowLoads *prometheus.CounterVec

	waitAckLatency *prometheus.HistogramVec
)

// Init registers the process metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		messagesHandled = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_total",
				Help: "Inbound bus messages by kind and result",
			},
			[]string{"kind", "result"},
		)
		commandsPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_published_total",
				Help: "Commands published to devices by command type",
			},
			[]string{"command"},
		)
		commandPublishErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_publish_errors_total",
				Help: "Command publish failures by reason",
			},
			[]string{"reason"},
		)
		acksReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "acks_received_total",
				Help: "Device acknowledgments by result",
			},
			[]string{"result"},
		)
		ackCleanupDeleted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ack_cleanup_deleted_total",
				Help: "Expired durable ack records deleted by the cleanup sweep",
			},
		)
		shadowLoads = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "shadow_loads_total",
				Help: "Shadow snapshot reads by source",
			},
			[]string{"source"},
		)
		waitAckLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "wait_ack_seconds",
				Help:    "Blocking ack-wait duration by outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)

		prometheus.MustRegister(
			messagesHandled,
			commandsPublished,
			commandPublishErrors,
			acksReceived,
			ackCleanupDeleted,
			shadowLoads,
			waitAckLatency,
		)
	})
}

// IncMessageHandled counts a processed inbound message.
func IncMessageHandled(kind string) {
	if messagesHandled != nil {
		messagesHandled.WithLabelValues(kind, resultSuccess).Inc()
	}
}

// IncMessageDropped counts a malformed inbound message.
func IncMessageDropped(kind string) {
	if messagesHandled != nil {
		messagesHandled.WithLabelValues(kind, resultDropped).Inc()
	}
}

// IncMessageError counts a message whose side effects failed.
func IncMessageError(kind string) {
	if messagesHandled != nil {
		messagesHandled.WithLabelValues(kind, resultError).Inc()
	}
}

// IncCommandPublished counts a published command.
func IncCommandPublished(command string) {
	if commandsPublished != nil {
		commandsPublished.WithLabelValues(command).Inc()
	}
}

// IncCommandPublishError counts a publish failure.
func IncCommandPublishError(reason string) {
	if commandPublishErrors != nil {
		commandPublishErrors.WithLabelValues(reason).Inc()
	}
}

// IncAckReceived counts a received ack by result.
func IncAckReceived(result string) {
	if acksReceived != nil {
		acksReceived.WithLabelValues(result).Inc()
	}
}

// AddAckCleanupDeleted counts cleanup deletions.
func AddAckCleanupDeleted(count int) {
	if ackCleanupDeleted != nil && count > 0 {
		ackCleanupDeleted.Add(float64(count))
	}
}

// IncShadowLoad counts a snapshot read by source.
func IncShadowLoad(source string) {
	if shadowLoads != nil {
		shadowLoads.WithLabelValues(source).Inc()
	}
}

// ObserveWaitAck records a wait-ack duration.
func ObserveWaitAck(outcome string, elapsed time.Duration) {
	if waitAckLatency != nil {
		waitAckLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
	}
}
