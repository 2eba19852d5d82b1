package llm

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxTokens is the completion budget used for planning calls.
const DefaultMaxTokens = 300

var (
	// ErrUnavailable covers transport failures, open breakers and rate limiter
	// cancellation. Callers treat it as retryable.
	ErrUnavailable = errors.New("language model unavailable")
	// ErrBadResponse means the endpoint answered but the envelope was unusable.
	ErrBadResponse = errors.New("language model returned an unusable response")
)

// Request is one chat completion call: a system instruction, the user text
// and a completion token budget.
type Request struct {
	System    string
	User      string
	MaxTokens int
}

// Client is the opaque language model collaborator. It returns the raw
// completion text, which may be empty or contain anything.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (string, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from language model: %s", e.Code, e.Body)
}

// Unwrap classifies every status failure as ErrUnavailable.
func (e *StatusError) Unwrap() error { return ErrUnavailable }
