package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsSubsystem = "kafka"

var groupLabels = []string{"topic", "consumer_group"}

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: metricsSubsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func durations(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: metricsSubsystem,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	}, labels)
}

var consumerMetrics = struct {
	received, processed, failed, dlq, duplicate *prometheus.CounterVec
	duration                                    *prometheus.HistogramVec
}{
	received:  counter("consumer_messages_received_total", "Messages fetched from the broker.", groupLabels...),
	processed: counter("consumer_messages_processed_total", "Messages handled successfully.", groupLabels...),
	failed:    counter("consumer_messages_failed_total", "Messages that exhausted retries or could not be decoded.", groupLabels...),
	dlq:       counter("consumer_dlq_published_total", "Messages forwarded to a dead-letter topic.", groupLabels...),
	duplicate: counter("consumer_messages_duplicate_total", "Redelivered events skipped by the idempotency guard.", "event_type"),
	duration:  durations("consumer_processing_duration_seconds", "Time spent handling one message.", groupLabels...),
}

var producerMetrics = struct {
	published, errors *prometheus.CounterVec
	duration          *prometheus.HistogramVec
}{
	published: counter("producer_messages_published_total", "Messages written to the broker.", "topic"),
	errors:    counter("producer_publish_errors_total", "Failed publish attempts.", "topic"),
	duration:  durations("producer_publish_duration_seconds", "Time spent in one publish call.", "topic"),
}
