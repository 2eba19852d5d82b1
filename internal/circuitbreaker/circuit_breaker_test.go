package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, config Config) (*CircuitBreaker, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Now()}
	cb := NewCircuitBreaker("test", config, zaptest.NewLogger(t))
	cb.now = clock.now
	cb.mu.Lock()
	cb.reset(clock.t)
	cb.mu.Unlock()
	return cb, clock
}

var errUpstream = errors.New("upstream error")

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestCircuitBreakerStates(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.SuccessThreshold = 2
	config.MaxRequests = 5
	config.Timeout = 30 * time.Second

	cb, clock := newTestBreaker(t, config)
	ctx := context.Background()

	assert.Equal(t, StateClosed, cb.State())
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, succeed))
	}
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.True(t, cb.IsOpen())

	clock.advance(10 * time.Second)
	err := cb.Execute(ctx, succeed)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	var open *OpenError
	require.True(t, errors.As(err, &open))
	assert.Equal(t, "test", open.Breaker)
	assert.Equal(t, 20*time.Second, open.RetryAfter)

	clock.advance(20 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, succeed))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 1
	cb, clock := newTestBreaker(t, config)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.advance(config.Timeout)
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(ctx, fail)
	snap := cb.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, clock.t.Add(config.Timeout), snap.Until)
}

func TestCircuitBreakerMaxRequests(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.MaxRequests = 2
	config.SuccessThreshold = 5
	cb, clock := newTestBreaker(t, config)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.advance(config.Timeout)

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, succeed))
	}
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests)
}

func TestAbandonedHalfOpenCallReleasesSlot(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.MaxRequests = 1
	config.SuccessThreshold = 1
	cb, clock := newTestBreaker(t, config)

	_ = cb.Execute(context.Background(), fail)
	clock.advance(config.Timeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return ctx.Err() }), context.Canceled)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestClosedWindowResetsCounts(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.Interval = time.Minute
	cb, clock := newTestBreaker(t, config)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock.advance(time.Minute + time.Second)
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().ConsecutiveFailures)
}

func TestCircuitBreakerCounts(t *testing.T) {
	cb, _ := newTestBreaker(t, DefaultConfig())
	ctx := context.Background()

	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)

	counts := cb.Counts()
	assert.Equal(t, uint32(3), counts.Requests)
	assert.Equal(t, uint32(2), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
}

func TestPanicCountsAsFailure(t *testing.T) {
	cb, _ := newTestBreaker(t, DefaultConfig())

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func() error { panic("boom") })
	})
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
}

func TestCancelledContextDoesNotTrip(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 1
	cb, _ := newTestBreaker(t, config)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestStateChangeCallback(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 2

	var transitions []string
	config.OnStateChange = func(name string, from State, to State) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	}

	cb, clock := newTestBreaker(t, config)
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	clock.advance(config.Timeout)
	_ = cb.State()

	assert.Equal(t, []string{"test:closed->open", "test:open->half-open"}, transitions)
}

func TestHTTPWrapperTripsOnServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	config := DefaultConfig()
	config.FailureThreshold = 2
	hw := NewHTTPWrapper(srv.Client(), "llm-test-5xx", "llm", config, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		require.NoError(t, err, "5xx responses are returned to the caller")
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}
	assert.True(t, hw.Breaker().IsOpen())

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := hw.Do(req)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	_, ok := GlobalMetricsCollector.Breakers()["llm:llm-test-5xx"]
	assert.True(t, ok)
}

func TestHTTPWrapperIgnoresClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	config := DefaultConfig()
	config.FailureThreshold = 1
	hw := NewHTTPWrapper(srv.Client(), "llm-test-4xx", "llm", config, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, StateClosed, hw.Breaker().State())
}
