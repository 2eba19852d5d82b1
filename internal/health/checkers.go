package health

import (
	"context"
	"time"

	"github.com/Kocoro-lab/clinicflow/internal/circuitbreaker"
	"github.com/Kocoro-lab/clinicflow/internal/policy"
)

// BreakerChecker reports the state of a circuit breaker guarding an
// upstream, e.g. the language-model endpoint.
type BreakerChecker struct {
	name     string
	breaker  *circuitbreaker.CircuitBreaker
	critical bool
}

// NewBreakerChecker creates a checker named name for breaker.
func NewBreakerChecker(name string, breaker *circuitbreaker.CircuitBreaker, critical bool) *BreakerChecker {
	return &BreakerChecker{name: name, breaker: breaker, critical: critical}
}

func (b *BreakerChecker) Name() string           { return b.name }
func (b *BreakerChecker) IsCritical() bool       { return b.critical }
func (b *BreakerChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerChecker) Check(ctx context.Context) CheckResult {
	snap := b.breaker.Snapshot()
	result := CheckResult{
		Details: map[string]interface{}{
			"breaker":              b.breaker.Name(),
			"state":                snap.State.String(),
			"requests":             snap.Counts.Requests,
			"consecutive_failures": snap.Counts.ConsecutiveFailures,
		},
	}

	switch snap.State {
	case circuitbreaker.StateOpen:
		result.Status = StatusUnhealthy
		result.Error = circuitbreaker.ErrCircuitBreakerOpen.Error()
		result.Message = "Upstream circuit breaker is open"
		result.Details["retry_in"] = time.Until(snap.Until).Round(time.Second).String()
	case circuitbreaker.StateHalfOpen:
		result.Status = StatusDegraded
		result.Message = "Upstream circuit breaker is admitting trial requests"
	default:
		result.Status = StatusHealthy
		result.Message = "Upstream reachable"
	}
	return result
}

// PolicyChecker reports whether the step policy gate is active as
// configured. A configured but unloaded engine is degraded, not unhealthy.
type PolicyChecker struct {
	engine     policy.Engine
	configured bool
}

// NewPolicyChecker creates a checker for engine. configured is the
// policy.enabled setting.
func NewPolicyChecker(engine policy.Engine, configured bool) *PolicyChecker {
	return &PolicyChecker{engine: engine, configured: configured}
}

func (p *PolicyChecker) Name() string           { return "policy" }
func (p *PolicyChecker) IsCritical() bool       { return false }
func (p *PolicyChecker) Timeout() time.Duration { return time.Second }

func (p *PolicyChecker) Check(ctx context.Context) CheckResult {
	active := p.engine != nil && p.engine.IsEnabled()
	result := CheckResult{
		Details: map[string]interface{}{
			"configured": p.configured,
			"active":     active,
		},
	}
	if p.engine != nil {
		result.Details["mode"] = string(p.engine.Mode())
	}

	switch {
	case p.configured && !active:
		result.Status = StatusDegraded
		result.Message = "Policy engine enabled but no policies loaded"
	case active:
		result.Status = StatusHealthy
		result.Message = "Step policies loaded"
	default:
		result.Status = StatusHealthy
		result.Message = "Policy gate disabled"
	}
	return result
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
