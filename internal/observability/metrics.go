package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the harness Prometheus collectors.
type Metrics struct {
	MessagesProcessed *prometheus.CounterVec
	MessageDuration   *prometheus.HistogramVec

	ModelRequests   *prometheus.CounterVec
	ModelDuration   *prometheus.HistogramVec
	ModelTokensUsed *prometheus.CounterVec

	ToolExecutions *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec

	CreditDeductions *prometheus.CounterVec
	CreditsSpent     *prometheus.CounterVec

	Handoffs    *prometheus.CounterVec
	Escalations *prometheus.CounterVec

	SessionsClosed  *prometheus.CounterVec
	SweepClosures   prometheus.Counter
	DeliveryRetries prometheus.Counter
	DeadLetters     *prometheus.CounterVec
}

// NewMetrics registers the harness collectors on a registry; nil uses the
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew",
			Name:      "messages_processed_total",
			Help:      "Inbound messages processed by outcome.",
		}, []string{"channel", "outcome"}),

		MessageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crew",
			Name:      "message_duration_seconds",
			Help:      "End-to-end inbound message handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),

		ModelRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew",
			Name:      "model_requests_total",
			Help:      "Model completions by provider and status.",
		}, []string{"provider", "status"}),

		ModelDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crew",
			Name:      "model_request_duration_seconds",
			Help:      "Model completion latency by provider.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		ModelTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew",
			Name:      "model_tokens_total",
			Help:      "Tokens consumed by provider and direction.",
		}, []string{"provider", "direction"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew",
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and status.",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crew",
			Name:      "tool_execution_duration_seconds",
			Help:      "Tool execution latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		}, []string{"tool"}),

		CreditDeductions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew",
			Name:      "credit_deductions_total",
			Help:      "Credit deductions by result code.",
		}, []string{"code"}),

		CreditsSpent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew",
			Name:      "credits_spent_total",
			Help:      "Credits deducted, including parent-funded spend.",
		}, []string{"source"}),

		Handoffs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew",
			Name:      "handoffs_total",
			Help:      "Agent handoffs by result.",
		}, []string{"result"}),

		Escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew",
			Name:      "escalations_total",
			Help:      "Human escalations by trigger.",
		}, []string{"trigger"}),

		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew",
			Name:      "sessions_closed_total",
			Help:      "Sessions closed by reason.",
		}, []string{"reason"}),

		SweepClosures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "crew",
			Name:      "sweep_closures_total",
			Help:      "Sessions closed by the background expiry sweep.",
		}),

		DeliveryRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "crew",
			Name:      "delivery_retries_total",
			Help:      "Outbound send retries.",
		}),

		DeadLetters: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew",
			Name:      "dead_letters_total",
			Help:      "Outbound messages dead-lettered by channel.",
		}, []string{"channel"}),
	}
}

// ObserveModelRequest records one model completion.
func (m *Metrics) ObserveModelRequest(provider, status string, elapsed time.Duration, inputTokens, outputTokens int) {
	m.ModelRequests.WithLabelValues(provider, status).Inc()
	m.ModelDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	if inputTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

// ObserveTool records one tool execution.
func (m *Metrics) ObserveTool(tool, status string, elapsed time.Duration) {
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}
