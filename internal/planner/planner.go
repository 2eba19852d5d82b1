package planner

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/clinicflow/internal/llm"
	ometrics "github.com/Kocoro-lab/clinicflow/internal/metrics"
	"github.com/Kocoro-lab/clinicflow/internal/plan"
	"github.com/Kocoro-lab/clinicflow/internal/tracing"
)

// MaxAttempts is one call plus one strict retry.
const MaxAttempts = 2

// Config controls planning calls.
type Config struct {
	MaxTokens int `mapstructure:"max_tokens"`
}

// DefaultConfig returns the standard token budget.
func DefaultConfig() Config {
	return Config{MaxTokens: llm.DefaultMaxTokens}
}

// PlanningError reports that no usable plan was obtained. Err is the failure
// of the last attempt; First is the failure that triggered the retry.
type PlanningError struct {
	Attempts int
	First    error
	Err      error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// Kind classifies the final failure for metrics and API responses.
func (e *PlanningError) Kind() string {
	return failureKind(e.Err)
}

// Planner turns a user request into a Plan using a language model.
type Planner struct {
	client llm.Client
	config Config
	logger *zap.Logger
}

// New creates a planner around client.
func New(client llm.Client, config Config, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = llm.DefaultMaxTokens
	}
	return &Planner{client: client, config: config, logger: logger}
}

// Plan asks the model for a plan. Any failure of the first call (transport,
// empty output, unparseable output) is retried exactly once with a stricter
// instruction. Step contents are not validated here.
func (p *Planner) Plan(ctx context.Context, input string) (*plan.Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "planner.plan")
	defer span.End()

	userText := ClarifyInput(input)

	result, first := p.attempt(ctx, userText, 1)
	if first == nil {
		span.SetAttributes(attribute.Int("planner.attempts", 1))
		return result, nil
	}
	if ctx.Err() != nil {
		err := &PlanningError{Attempts: 1, First: first, Err: first}
		tracing.RecordError(span, err)
		return nil, err
	}

	p.logger.Warn("Planning attempt failed, retrying with strict instruction",
		zap.String("kind", failureKind(first)),
		zap.Error(first),
	)

	result, err := p.attempt(ctx, userText+StrictSuffix, MaxAttempts)
	span.SetAttributes(attribute.Int("planner.attempts", MaxAttempts))
	if err != nil {
		perr := &PlanningError{Attempts: MaxAttempts, First: first, Err: err}
		tracing.RecordError(span, perr)
		p.logger.Error("Planning failed", zap.String("kind", perr.Kind()), zap.Error(err))
		return nil, perr
	}
	return result, nil
}

func (p *Planner) attempt(ctx context.Context, userText string, n int) (*plan.Plan, error) {
	label := strconv.Itoa(n)

	raw, err := p.client.Complete(ctx, llm.Request{
		System:    SystemPrompt,
		User:      userText,
		MaxTokens: p.config.MaxTokens,
	})
	if err != nil {
		ometrics.PlanningAttempts.WithLabelValues(label, "llm_error").Inc()
		return nil, err
	}

	parsed, err := plan.Parse(raw)
	if err != nil {
		ometrics.PlanningAttempts.WithLabelValues(label, "parse_error").Inc()
		ometrics.PlanParseErrors.WithLabelValues(plan.Kind(err)).Inc()
		p.logger.Debug("Unparseable plan", zap.Int("attempt", n), zap.Int("raw_len", len(raw)), zap.Error(err))
		return nil, err
	}

	ometrics.PlanningAttempts.WithLabelValues(label, "ok").Inc()
	ometrics.PlanSteps.Observe(float64(parsed.Len()))
	return parsed, nil
}

func failureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, llm.ErrUnavailable):
		return "llm_unavailable"
	case errors.Is(err, llm.ErrBadResponse):
		return "llm_bad_response"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return plan.Kind(err)
}
