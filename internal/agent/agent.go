package agent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/clinicflow/internal/executor"
	ometrics "github.com/Kocoro-lab/clinicflow/internal/metrics"
	"github.com/Kocoro-lab/clinicflow/internal/planner"
	"github.com/Kocoro-lab/clinicflow/internal/tracing"
)

// Agent composes planning and execution for a single request.
type Agent struct {
	planner  *planner.Planner
	executor *executor.Executor
	logger   *zap.Logger
}

// New creates an agent.
func New(p *planner.Planner, e *executor.Executor, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{planner: p, executor: e, logger: logger}
}

// Run plans and executes input. Business-rule failures come back as a
// FAILED result. A *planner.PlanningError or *executor.BackendError is
// returned as err and no result is produced.
func (a *Agent) Run(ctx context.Context, input string, opts ...executor.Option) (*executor.Result, error) {
	requestID := uuid.New().String()
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "agent.run", attribute.String("request.id", requestID))
	defer span.End()

	logger := a.logger.With(zap.String("request_id", requestID))
	logger.Info("Agent request received", zap.Int("input_len", len(input)))

	outcome := "success"
	defer func() {
		ometrics.AgentRequests.WithLabelValues(outcome).Inc()
		ometrics.AgentRequestDuration.Observe(time.Since(start).Seconds())
	}()

	p, err := a.planner.Plan(ctx, input)
	if err != nil {
		outcome = "planning_error"
		tracing.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("plan.steps", p.Len()))

	opts = append([]executor.Option{executor.WithRequestID(requestID)}, opts...)
	result, err := a.executor.Execute(ctx, p, opts...)
	if err != nil {
		var be *executor.BackendError
		if errors.As(err, &be) {
			outcome = "backend_error"
		} else {
			outcome = "error"
		}
		tracing.RecordError(span, err)
		return nil, err
	}

	if !result.Succeeded() {
		outcome = "failed"
		span.SetAttributes(attribute.String("result.reason", result.Reason))
	}
	logger.Info("Agent request completed",
		zap.String("status", string(result.Status)),
		zap.Int("audited_steps", len(result.AuditLog)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}
