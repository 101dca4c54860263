// Package metrics holds the Prometheus collectors shared by the event pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message outcomes recorded by listeners.
const (
	OutcomeProcessed  = "processed"
	OutcomeMalformed  = "malformed"
	OutcomeInvalid    = "invalid"
	OutcomeFailed     = "failed"
	OutcomeDeadLetter = "dead_lettered"
	ResultOK          = "ok"
	ResultError       = "error"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventpipe",
		Name:      "messages_total",
		Help:      "Messages handled by listeners, by channel and outcome.",
	}, []string{"channel", "outcome"})

	handleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eventpipe",
		Name:      "handle_duration_seconds",
		Help:      "Time spent handling a single message.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"channel"})

	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventpipe",
		Name:      "published_total",
		Help:      "Publish attempts by channel and result.",
	}, []string{"channel", "result"})
)

func ObserveMessage(channel, outcome string, elapsed time.Duration) {
	messagesTotal.WithLabelValues(channel, outcome).Inc()
	handleDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
}

func ObservePublish(channel string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	publishedTotal.WithLabelValues(channel, result).Inc()
}
