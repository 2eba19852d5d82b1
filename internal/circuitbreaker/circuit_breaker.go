package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// OpenError is returned while the breaker rejects calls. It matches
// ErrCircuitBreakerOpen under errors.Is.
type OpenError struct {
	Breaker    string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open, retry in %s", e.Breaker, e.RetryAfter.Round(time.Millisecond))
}

func (e *OpenError) Is(target error) bool { return target == ErrCircuitBreakerOpen }

// Config holds circuit breaker configuration
type Config struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`      // Trial requests admitted while half-open
	Interval         time.Duration `mapstructure:"interval"`          // Closed-state counter window; 0 never resets
	Timeout          time.Duration `mapstructure:"timeout"`           // Open duration before trial requests
	FailureThreshold uint32        `mapstructure:"failure_threshold"` // Consecutive failures that open the breaker
	SuccessThreshold uint32        `mapstructure:"success_threshold"` // Half-open successes that close it again
	OnStateChange    func(name string, from State, to State) `mapstructure:"-"`
}

// DefaultConfig returns defaults tuned for a remote language model endpoint.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts holds the statistics of the current window. They reset on every
// state change and when a closed window expires.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Snapshot is a consistent view of a breaker.
type Snapshot struct {
	State  State
	Counts Counts
	// Until is when the current window ends: the end of the open period or
	// the next closed-state reset. Zero means no deadline.
	Until time.Time
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeAbandoned is a call cut short by its own context.
	outcomeAbandoned
)

// CircuitBreaker stops calls to an upstream after repeated failures, then
// lets a limited number of trial requests through once the open period is over.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	state  State
	gen    uint64
	counts Counts
	until  time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := &CircuitBreaker{name: name, config: config, logger: logger, now: time.Now}
	cb.reset(cb.now())
	return cb
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker admits it. An error caused by ctx ending
// counts as neither success nor failure; a panic counts as failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}

	settled := false
	defer func() {
		if !settled {
			cb.record(gen, outcomeFailure)
		}
	}()

	err = fn()
	settled = true
	cb.record(gen, classify(ctx, err))
	return err
}

func classify(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return outcomeAbandoned
	}
	return outcomeFailure
}

// Snapshot returns state, counts and deadline read under one lock.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh(cb.now())
	return Snapshot{State: cb.state, Counts: cb.counts, Until: cb.until}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State { return cb.Snapshot().State }

// IsOpen reports whether requests are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

// Counts returns the counts of the current window.
func (cb *CircuitBreaker) Counts() Counts { return cb.Snapshot().Counts }

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.refresh(now)
	switch cb.state {
	case StateOpen:
		return 0, &OpenError{Breaker: cb.name, RetryAfter: cb.until.Sub(now)}
	case StateHalfOpen:
		if cb.counts.Requests >= cb.config.MaxRequests {
			return 0, ErrTooManyRequests
		}
	}
	cb.counts.Requests++
	return cb.gen, nil
}

func (cb *CircuitBreaker) record(gen uint64, o outcome) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.refresh(now)
	// The window moved on while the call was in flight.
	if gen != cb.gen {
		return
	}

	c := &cb.counts
	switch o {
	case outcomeAbandoned:
		if cb.state == StateHalfOpen {
			c.Requests--
		}
	case outcomeSuccess:
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && c.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed, now)
		}
	case outcomeFailure:
		c.TotalFailures++
		c.ConsecutiveFailures++
		c.ConsecutiveSuccesses = 0
		if cb.state == StateHalfOpen || c.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	}
}

// refresh applies deadline-driven changes: a closed window starts over and
// an expired open period becomes half-open.
func (cb *CircuitBreaker) refresh(now time.Time) {
	if cb.until.IsZero() || now.Before(cb.until) {
		return
	}
	switch cb.state {
	case StateClosed:
		cb.reset(now)
	case StateOpen:
		cb.transition(StateHalfOpen, now)
	}
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.reset(now)

	cb.logger.Info("Circuit breaker state changed",
		zap.String("breaker", cb.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}

// reset opens a new window for the current state.
func (cb *CircuitBreaker) reset(now time.Time) {
	cb.gen++
	cb.counts = Counts{}
	cb.until = time.Time{}
	switch {
	case cb.state == StateOpen:
		cb.until = now.Add(cb.config.Timeout)
	case cb.state == StateClosed && cb.config.Interval > 0:
		cb.until = now.Add(cb.config.Interval)
	}
}
