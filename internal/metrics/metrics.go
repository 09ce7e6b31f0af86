package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meetdesk"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status class.",
		},
		[]string{"endpoint", "code"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome.",
		},
		[]string{"outcome"},
	)

	quotaRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Operations rejected by reschedule or cancellation quotas.",
		},
		[]string{"kind"},
	)

	softFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_soft_failures_total",
			Help:      "Advisory reads that failed and fell back to a permissive answer.",
		},
		[]string{"read"},
	)

	followUps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "followup_tasks_total",
			Help:      "Post-commit follow-up task results by type.",
		},
		[]string{"type", "result"},
	)

	botUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_updates_total",
			Help:      "Telegram updates handled by kind.",
		},
		[]string{"kind"},
	)

	botUpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bot_update_processing_seconds",
			Help:      "Time spent processing a Telegram update.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests, bookings, quotaRejections, softFailures, followUps,
			botUpdates, botUpdateDuration,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint, code string) {
	httpRequests.WithLabelValues(endpoint, code).Inc()
}

// IncBooking counts a booking attempt outcome (created, duplicate, rejected, error).
func IncBooking(outcome string) {
	bookings.WithLabelValues(outcome).Inc()
}

// IncQuotaRejection counts a quota rejection of kind reschedule or cancellation.
func IncQuotaRejection(kind string) {
	quotaRejections.WithLabelValues(kind).Inc()
}

// IncSoftFailure counts a failed advisory read.
func IncSoftFailure(read string) {
	softFailures.WithLabelValues(read).Inc()
}

// IncFollowUp counts a follow-up task result.
func IncFollowUp(taskType, result string) {
	followUps.WithLabelValues(taskType, result).Inc()
}

// IncBotUpdate counts a Telegram update (message, callback, rate_limited, panic).
func IncBotUpdate(kind string) {
	botUpdates.WithLabelValues(kind).Inc()
}

func ObserveBotUpdate(seconds float64) {
	botUpdateDuration.Observe(seconds)
}
