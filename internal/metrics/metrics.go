package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Agent metrics
	AgentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicflow_agent_requests_total",
			Help: "Total number of agent requests by outcome",
		},
		[]string{"outcome"}, // success, failed, planning_error, backend_error
	)

	AgentRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clinicflow_agent_request_duration_seconds",
			Help:    "End-to-end agent request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Planning metrics
	PlanningAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicflow_planning_attempts_total",
			Help: "Total number of planning attempts by attempt number and result",
		},
		[]string{"attempt", "result"},
	)

	PlanParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicflow_plan_parse_errors_total",
			Help: "Total number of plan parse failures by kind",
		},
		[]string{"kind"},
	)

	PlanSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clinicflow_plan_steps",
			Help:    "Number of steps per parsed plan",
			Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12},
		},
	)

	// Execution metrics
	StepExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicflow_step_executions_total",
			Help: "Total number of executed plan steps",
		},
		[]string{"function", "status"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clinicflow_step_duration_seconds",
			Help:    "Backend operation latency per plan step",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"function"},
	)

	ContextInjections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicflow_context_injections_total",
			Help: "Model-supplied arguments overwritten from execution context",
		},
		[]string{"function", "field", "model_value"}, // model_value: sentinel, absent, other
	)

	// LLM metrics
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clinicflow_llm_request_duration_seconds",
			Help:    "Language model request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	LLMErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicflow_llm_errors_total",
			Help: "Total number of failed language model requests",
		},
		[]string{"model", "reason"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicflow_llm_tokens_total",
			Help: "Tokens reported by the language model",
		},
		[]string{"model", "type"}, // prompt, completion
	)

	// Policy metrics
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicflow_policy_decisions_total",
			Help: "Step policy decisions",
		},
		[]string{"function", "decision"},
	)
)
