package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	ometrics "github.com/Kocoro-lab/clinicflow/internal/metrics"
	"github.com/Kocoro-lab/clinicflow/internal/plan"
	"github.com/Kocoro-lab/clinicflow/internal/policy"
	"github.com/Kocoro-lab/clinicflow/internal/schema"
	"github.com/Kocoro-lab/clinicflow/internal/tools"
	"github.com/Kocoro-lab/clinicflow/internal/tracing"
)

// StepEvent describes a step as it finishes. Status is "ok" or "failed".
type StepEvent struct {
	Index     int                    `json:"index"`
	Function  schema.FunctionName    `json:"function"`
	Arguments map[string]interface{} `json:"arguments"`
	Output    interface{}            `json:"output,omitempty"`
	Status    string                 `json:"status"`
	Reason    string                 `json:"reason,omitempty"`
}

// Observer receives step events synchronously, in execution order.
type Observer func(StepEvent)

type runOptions struct {
	requestID string
	observer  Observer
}

// Option customizes a single Execute call.
type Option func(*runOptions)

// WithRequestID tags logs and policy input with id.
func WithRequestID(id string) Option {
	return func(o *runOptions) { o.requestID = id }
}

// WithObserver streams step events to fn.
func WithObserver(fn Observer) Option {
	return func(o *runOptions) { o.observer = fn }
}

// Executor validates and runs plans against a backend. It holds no
// per-request state and may be shared between goroutines.
type Executor struct {
	backend  tools.Backend
	handlers map[schema.FunctionName]tools.Handler
	policy   policy.Engine
	logger   *zap.Logger
}

// New creates an executor. engine may be nil to skip the policy gate.
func New(backend tools.Backend, engine policy.Engine, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{backend: backend, handlers: tools.Handlers(), policy: engine, logger: logger}
}

// Execute runs the plan steps in order and stops at the first failure.
// Validation and policy failures come back as a FAILED result with a nil
// error. A backend failure is returned as *BackendError. Steps already run
// are not undone.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, opts ...Option) (*Result, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	execCtx := NewContext()
	audit := make([]AuditEntry, 0, p.Len())
	executed := make([]string, 0, p.Len())

	for i := 0; i < p.Len(); i++ {
		step := p.Steps[i]
		entry, reason, err := e.runStep(ctx, i, step, execCtx, executed, o)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			e.logger.Info("Plan execution failed",
				zap.String("request_id", o.requestID),
				zap.Int("step", i),
				zap.String("function", string(step.Function)),
				zap.String("reason", reason),
			)
			return &Result{Status: StatusFailed, Reason: reason, RequestID: o.requestID}, nil
		}
		audit = append(audit, *entry)
		executed = append(executed, string(step.Function))
	}

	e.logger.Debug("Plan executed",
		zap.String("request_id", o.requestID),
		zap.Int("steps", len(audit)),
	)
	return &Result{Status: StatusSuccess, AuditLog: audit, RequestID: o.requestID}, nil
}

// runStep returns either an audit entry, a failure reason, or a backend error.
func (e *Executor) runStep(ctx context.Context, index int, step plan.Step, execCtx *Context, executed []string, o runOptions) (*AuditEntry, string, error) {
	fn := step.Function
	ctx, span := tracing.StartSpan(ctx, "executor.step",
		attribute.Int("step.index", index),
		attribute.String("step.function", string(fn)),
	)
	defer span.End()

	args := step.CloneArguments()

	fail := func(reason string) (*AuditEntry, string, error) {
		ometrics.StepExecutions.WithLabelValues(metricFunction(fn), "failed").Inc()
		span.SetAttributes(attribute.String("step.failure", reason))
		e.notify(o, StepEvent{Index: index, Function: fn, Arguments: args, Status: "failed", Reason: reason})
		return nil, reason, nil
	}

	handler, ok := e.handlers[fn]
	if !ok {
		return fail(fmt.Sprintf("Unknown function %s", fn))
	}
	e.inject(handler, args, execCtx)
	for _, field := range handler.Required() {
		if isEmpty(args[field]) {
			return fail(fmt.Sprintf("Missing field '%s' for function '%s'", field, fn))
		}
	}

	if reason := e.checkPolicy(ctx, index, fn, args, execCtx, executed, o.requestID); reason != "" {
		return fail(reason)
	}

	start := time.Now()
	out, err := handler.Invoke(ctx, e.backend, args)
	ometrics.StepDuration.WithLabelValues(string(fn)).Observe(time.Since(start).Seconds())
	if err != nil {
		var rejection *tools.Rejection
		if errors.As(err, &rejection) {
			return fail(rejection.Reason)
		}
		ometrics.StepExecutions.WithLabelValues(string(fn), "error").Inc()
		tracing.RecordError(span, err)
		e.logger.Error("Backend operation failed",
			zap.String("request_id", o.requestID),
			zap.Int("step", index),
			zap.String("function", string(fn)),
			zap.Error(err),
		)
		return nil, "", &BackendError{Function: fn, Step: index, Err: err}
	}

	for key := range out.ContextWrites {
		if !handler.MayWrite(key) {
			err := fmt.Errorf("%w: %q", ErrUndeclaredContextWrite, key)
			ometrics.StepExecutions.WithLabelValues(string(fn), "error").Inc()
			tracing.RecordError(span, err)
			return nil, "", &BackendError{Function: fn, Step: index, Err: err}
		}
	}
	for key, value := range out.ContextWrites {
		execCtx.Set(key, value)
	}

	ometrics.StepExecutions.WithLabelValues(string(fn), "ok").Inc()
	e.notify(o, StepEvent{Index: index, Function: fn, Arguments: args, Output: out.Output, Status: "ok"})
	return &AuditEntry{Function: fn, Arguments: args, Output: out.Output}, "", nil
}

// inject overwrites the handler's context-owned arguments unconditionally. A
// key missing from the context becomes nil so validation reports it as missing.
func (e *Executor) inject(h tools.Handler, args map[string]interface{}, execCtx *Context) {
	fn := h.Name
	for _, key := range h.Injects {
		ometrics.ContextInjections.WithLabelValues(string(fn), key, modelValueKind(args, key)).Inc()
		if v, ok := execCtx.Get(key); ok {
			args[key] = v
		} else {
			args[key] = nil
		}
	}
}

func (e *Executor) checkPolicy(ctx context.Context, index int, fn schema.FunctionName, args map[string]interface{}, execCtx *Context, executed []string, requestID string) string {
	if e.policy == nil || !e.policy.IsEnabled() {
		return ""
	}
	decision, err := e.policy.Evaluate(ctx, &policy.StepInput{
		RequestID: requestID,
		StepIndex: index,
		Function:  string(fn),
		Arguments: args,
		Context:   execCtx.Snapshot(),
		Executed:  append([]string(nil), executed...),
	})
	if err != nil {
		e.logger.Warn("Policy evaluation error",
			zap.String("request_id", requestID),
			zap.String("function", string(fn)),
			zap.Error(err),
		)
		policy.RecordDecision(string(fn), nil)
	} else {
		policy.RecordDecision(string(fn), decision)
	}
	if decision != nil && !decision.Allow {
		return fmt.Sprintf("Policy denied '%s': %s", fn, decision.Reason)
	}
	return ""
}

func (e *Executor) notify(o runOptions, ev StepEvent) {
	if o.observer != nil {
		o.observer(ev)
	}
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func modelValueKind(args map[string]interface{}, key string) string {
	v, ok := args[key]
	switch {
	case !ok || v == nil:
		return "absent"
	case v == schema.ContextSentinel:
		return "sentinel"
	}
	return "other"
}

// metricFunction keeps label cardinality bounded for model-invented names.
func metricFunction(fn schema.FunctionName) string {
	if schema.IsKnown(fn) {
		return string(fn)
	}
	return "unknown"
}
