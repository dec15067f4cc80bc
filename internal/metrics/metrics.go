package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Orchestration metrics
	RequestsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawbridge_requests_routed_total",
			Help: "Total requests by resolved route",
		},
		[]string{"route"},
	)

	RequestsFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drawbridge_requests_flagged_total",
			Help: "Requests refused by the input sanitizer",
		},
	)

	RoutingFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drawbridge_routing_fallbacks_total",
			Help: "Routing decisions that fell back to the direct path",
		},
	)

	AgentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drawbridge_agent_duration_seconds",
			Help:    "End-to-end orchestration duration per route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Tool loop metrics
	LoopIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drawbridge_loop_iterations",
			Help:    "Model invocations per tool-calling loop run",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
		[]string{"label"},
	)

	LoopCeilingHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawbridge_loop_ceiling_hits_total",
			Help: "Tool-calling loops that hit the iteration ceiling",
		},
		[]string{"label"},
	)

	ToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawbridge_tool_invocations_total",
			Help: "Capability invocations by tool name and outcome",
		},
		[]string{"tool", "status"},
	)

	// Model client metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawbridge_llm_calls_total",
			Help: "Model calls by call shape and final status",
		},
		[]string{"call", "status"},
	)

	LLMRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawbridge_llm_retries_total",
			Help: "Model call retries by call shape",
		},
		[]string{"call"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drawbridge_llm_call_duration_seconds",
			Help:    "Model call duration including retries",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"call"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawbridge_http_requests_total",
			Help: "HTTP requests by method, path pattern, and status",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drawbridge_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drawbridge_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
