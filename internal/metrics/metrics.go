package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the message pipeline. Registered on the default registry and
// served by promhttp on /metrics.
var (
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_rate_limit_decisions_total",
		Help: "Rate limit admit decisions, partitioned by outcome.",
	}, []string{"outcome"})

	TrackedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rate_limit_tracked_users",
		Help: "Number of users currently tracked by the rate limiter.",
	})

	StreamChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_stream_chunks_total",
		Help: "Chunks forwarded to clients from upstream streams.",
	})

	StreamOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_stream_outcomes_total",
		Help: "Terminal outcomes of upstream generation turns.",
	}, []string{"outcome"})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_tool_calls_total",
		Help: "Tool calls executed on behalf of the model.",
	}, []string{"tool", "outcome"})

	AttachmentsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_attachments_rejected_total",
		Help: "Attachments rejected during validation.",
	}, []string{"reason"})

	IndexedTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_indexed_turns_total",
		Help: "Completed turns written through to the vector store.",
	}, []string{"outcome"})
)
