// Package metrics declares the platform's Prometheus instruments. All
// are registered on the default registry and served by the gateway's
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhooksReceived counts accepted webhook deliveries by kind.
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokotalk_webhooks_received_total",
		Help: "Webhook deliveries accepted, by webhook type.",
	}, []string{"type"})

	// MessagesBuffered counts messages added to chat buffers.
	MessagesBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokotalk_messages_buffered_total",
		Help: "Incoming messages added to a chat buffer.",
	})

	// DedupHits counts dropped duplicate messages.
	DedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokotalk_dedup_hits_total",
		Help: "Incoming messages dropped as duplicates.",
	})

	// BuffersFlushed counts buffer flushes dispatched to the agent.
	BuffersFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokotalk_buffers_flushed_total",
		Help: "Chat buffers flushed to the agent pipeline.",
	})

	// AgentRuns counts completed agent graph runs by resulting agent type.
	AgentRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokotalk_agent_runs_total",
		Help: "Agent graph runs, by answering agent type.",
	}, []string{"agent_type"})

	// AgentDuration observes end-to-end flush handling time.
	AgentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tokotalk_agent_duration_seconds",
		Help:    "Wall time of one flush-to-reply cycle.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// LLMTokens counts tokens consumed, by direction.
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokotalk_llm_tokens_total",
		Help: "LLM tokens consumed, by direction (prompt/completion).",
	}, []string{"direction"})

	// ToolExecutions counts tool calls by tool name.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokotalk_tool_executions_total",
		Help: "Agent tool executions, by tool.",
	}, []string{"tool"})

	// ChunksSent counts outgoing WhatsApp chunks delivered by the sender.
	ChunksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokotalk_chunks_sent_total",
		Help: "Outgoing message chunks delivered to the bridge.",
	})

	// SendFailures counts chunks that failed delivery.
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokotalk_send_failures_total",
		Help: "Outgoing chunks that failed delivery to the bridge.",
	})

	// CircuitTransitions counts breaker state changes by circuit and
	// destination state.
	CircuitTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokotalk_circuit_transitions_total",
		Help: "Circuit breaker state transitions, by circuit and new state.",
	}, []string{"circuit", "to"})

	// JobsProcessed counts AI job terminations by final status.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokotalk_jobs_processed_total",
		Help: "AI jobs that reached a terminal handling outcome.",
	}, []string{"status"})

	// PaymentNotifications counts processed gateway webhooks by provider
	// and outcome.
	PaymentNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokotalk_payment_notifications_total",
		Help: "Payment gateway notifications, by provider and outcome.",
	}, []string{"provider", "outcome"})
)
