// Package metrics exposes Prometheus collectors for the event pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the pipeline collectors.
	Registry = prometheus.NewRegistry()

	moderationDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plea_pipeline",
			Subsystem: "moderation",
			Name:      "decisions_total",
			Help:      "Terminal moderation decisions written.",
		},
		[]string{"kind", "status", "reason"},
	)

	stageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plea_pipeline",
			Subsystem: "upstream",
			Name:      "failures_total",
			Help:      "Upstream calls that errored or timed out, by stage.",
		},
		[]string{"stage"},
	)

	pushChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plea_pipeline",
			Subsystem: "push",
			Name:      "chunks_total",
			Help:      "Push delivery calls by outcome.",
		},
		[]string{"type", "outcome"},
	)

	pushRecipients = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plea_pipeline",
			Subsystem: "push",
			Name:      "recipients_total",
			Help:      "Recipients resolved per notification type.",
		},
		[]string{"type"},
	)

	dailyGenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plea_pipeline",
			Subsystem: "daily",
			Name:      "generations_total",
			Help:      "Daily content generations by outcome.",
		},
		[]string{"outcome"},
	)

	eventsHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plea_pipeline",
			Subsystem: "events",
			Name:      "handled_total",
			Help:      "Event deliveries by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	eventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "plea_pipeline",
			Subsystem: "events",
			Name:      "handle_duration_seconds",
			Help:      "Duration of event handling including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"type"},
	)
)

func init() {
	Registry.MustRegister(
		moderationDecisions,
		stageFailures,
		pushChunks,
		pushRecipients,
		dailyGenerations,
		eventsHandled,
		eventDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordModeration counts one settled decision.
func RecordModeration(kind, status, reason string) {
	if reason == "" {
		reason = "none"
	}
	moderationDecisions.WithLabelValues(kind, status, reason).Inc()
}

// RecordStageFailure counts one failed upstream call.
func RecordStageFailure(stage string) {
	stageFailures.WithLabelValues(stage).Inc()
}

// RecordPushChunk counts one delivery call.
func RecordPushChunk(notificationType string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	pushChunks.WithLabelValues(notificationType, outcome).Inc()
}

// RecordRecipients adds the resolved audience size.
func RecordRecipients(notificationType string, n int) {
	pushRecipients.WithLabelValues(notificationType).Add(float64(n))
}

// RecordDailyGeneration counts one generation by outcome (generated, fallback, placeholder).
func RecordDailyGeneration(outcome string) {
	dailyGenerations.WithLabelValues(outcome).Inc()
}

// ObserveEvent records the handling of one event.
func ObserveEvent(eventType, outcome string, seconds float64) {
	eventsHandled.WithLabelValues(eventType, outcome).Inc()
	eventDuration.WithLabelValues(eventType).Observe(seconds)
}
