package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/clinicflow/internal/circuitbreaker"
	ometrics "github.com/Kocoro-lab/clinicflow/internal/metrics"
	"github.com/Kocoro-lab/clinicflow/internal/tracing"
)

const (
	DefaultBaseURL = "https://router.huggingface.co/v1"
	DefaultModel   = "HuggingFaceH4/zephyr-7b-beta"
)

// Config configures HTTPClient.
type Config struct {
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Temperature       float64       `mapstructure:"temperature"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// HTTPClient calls an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	cfg     Config
	http    *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	logger  *zap.Logger
}

// OpenAI-compatible wire types
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewHTTPClient builds a client. breaker configures the circuit breaker
// guarding the endpoint.
func NewHTTPClient(cfg Config, breaker circuitbreaker.Config, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &HTTPClient{
		cfg:     cfg,
		http:    circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "chat-completions", "llm", breaker, logger),
		limiter: limiter,
		logger:  logger,
	}
}

// Model returns the configured model name.
func (c *HTTPClient) Model() string { return c.cfg.Model }

// Breaker exposes the endpoint circuit breaker for health checks.
func (c *HTTPClient) Breaker() *circuitbreaker.CircuitBreaker { return c.http.Breaker() }

// Complete sends one chat completion and returns the first choice's content.
// An empty completion is returned as "" with a nil error.
func (c *HTTPClient) Complete(ctx context.Context, in Request) (string, error) {
	if in.MaxTokens <= 0 {
		in.MaxTokens = DefaultMaxTokens
	}
	if err := c.limiter.Wait(ctx); err != nil {
		ometrics.LLMErrors.WithLabelValues(c.cfg.Model, "rate_limited").Inc()
		return "", fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}

	messages := make([]chatMessage, 0, 2)
	if in.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: in.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: in.User})

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   in.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.cfg.BaseURL + "/chat/completions"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	tracing.InjectTraceparent(ctx, req)

	start := time.Now()
	resp, err := c.http.Do(req)
	ometrics.LLMRequestDuration.WithLabelValues(c.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		ometrics.LLMErrors.WithLabelValues(c.cfg.Model, "transport").Inc()
		tracing.RecordError(span, err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		ometrics.LLMErrors.WithLabelValues(c.cfg.Model, "status").Inc()
		statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		tracing.RecordError(span, statusErr)
		return "", statusErr
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		ometrics.LLMErrors.WithLabelValues(c.cfg.Model, "decode").Inc()
		tracing.RecordError(span, err)
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	ometrics.LLMTokens.WithLabelValues(c.cfg.Model, "prompt").Add(float64(out.Usage.PromptTokens))
	ometrics.LLMTokens.WithLabelValues(c.cfg.Model, "completion").Add(float64(out.Usage.CompletionTokens))

	if len(out.Choices) == 0 {
		c.logger.Warn("Language model returned no choices", zap.String("model", c.cfg.Model))
		return "", nil
	}

	content := out.Choices[0].Message.Content
	c.logger.Debug("Language model completion",
		zap.String("model", c.cfg.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Int("content_len", len(content)),
		zap.Duration("latency", time.Since(start)),
	)
	return content, nil
}
