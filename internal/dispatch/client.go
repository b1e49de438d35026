package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"chartflow/internal/config"
	"chartflow/internal/logging"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxDetailBytes     = 512
)

// Class buckets an HTTP outcome for the coordinator.
type Class string

const (
	// ClassSuccess means the downstream stage accepted the request.
	ClassSuccess Class = "success"
	// ClassRetryable means the request failed in a way worth retrying:
	// 429, any 5xx, or a transport error such as a timeout or refused
	// connection.
	ClassRetryable Class = "retryable"
	// ClassTerminal means the downstream rejected the request outright
	// (a non-429 4xx); retrying the same request cannot succeed.
	ClassTerminal Class = "terminal"
)

// Outcome is the final result of a dispatch after all retries.
type Outcome struct {
	Class      Class
	StatusCode int
	Attempts   int
	Detail     string
}

// Success reports whether the dispatch was accepted downstream.
func (o Outcome) Success() bool { return o.Class == ClassSuccess }

// Client posts documents to downstream stages with bounded retries.
type Client struct {
	httpClient   *http.Client
	maxRetries   int
	retryDelay   time.Duration
	retryBackoff float64
	sleeper      func(time.Duration)
	logger       *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithLogger attaches a logger for per-attempt diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logging.NewComponentLogger(logger, "dispatch")
		}
	}
}

// NewClient builds a dispatch client from the pipeline settings.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.Pipeline.DispatchTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Pipeline.DispatchTimeoutSeconds) * time.Second
	}
	client := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		maxRetries:   cfg.Pipeline.MaxRetries,
		retryDelay:   time.Duration(cfg.Pipeline.RetryDelay * float64(time.Second)),
		retryBackoff: cfg.Pipeline.RetryBackoff,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.maxRetries < 1 {
		client.maxRetries = 1
	}
	if client.retryBackoff < 1 {
		client.retryBackoff = 1
	}
	return client
}

// Dispatch posts the JSON payload to url and retries retryable failures in
// place. The returned error reports caller faults (bad payload, nil context);
// downstream failures are carried in the Outcome, never the error.
func (c *Client) Dispatch(ctx context.Context, url string, payload any) (Outcome, error) {
	if ctx == nil {
		return Outcome{}, errors.New("dispatch: nil context")
	}
	if strings.TrimSpace(url) == "" {
		return Outcome{}, errors.New("dispatch: url required")
	}

	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Outcome{}, fmt.Errorf("dispatch: encode payload: %w", err)
		}
		body = encoded
	}

	var last Outcome
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		last = c.sendOnce(ctx, url, body)
		last.Attempts = attempt
		if last.Class != ClassRetryable {
			return last, nil
		}
		if attempt == c.maxRetries {
			break
		}

		delay := c.backoffDelay(attempt)
		c.logger.Warn("dispatch attempt failed, retrying",
			logging.String("url", url),
			logging.Int("attempt", attempt),
			logging.Int("status_code", last.StatusCode),
			logging.Duration("delay", delay),
			logging.String(logging.FieldEventType, "dispatch_retry"))
		if err := c.sleep(ctx, delay); err != nil {
			last.Detail = fmt.Sprintf("retry interrupted: %v", err)
			return last, nil
		}
	}

	c.logger.Error("dispatch retries exhausted",
		logging.String("url", url),
		logging.Int("attempts", last.Attempts),
		logging.Int("status_code", last.StatusCode),
		logging.String(logging.FieldEventType, "dispatch_exhausted"))
	return last, nil
}

func (c *Client) sendOnce(ctx context.Context, url string, body []byte) Outcome {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return Outcome{Class: ClassTerminal, Detail: fmt.Sprintf("build request: %v", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Outcome{Class: ClassRetryable, Detail: fmt.Sprintf("request canceled: %v", err)}
		}
		// Timeouts and connection failures are transient from the
		// coordinator's point of view.
		return Outcome{Class: ClassRetryable, Detail: fmt.Sprintf("transport error: %v", err)}
	}
	defer resp.Body.Close()

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
	return Outcome{
		Class:      classify(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Detail:     strings.TrimSpace(string(detail)),
	}
}

func classify(statusCode int) Class {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return ClassSuccess
	case statusCode == http.StatusTooManyRequests:
		return ClassRetryable
	case statusCode >= 500:
		return ClassRetryable
	default:
		return ClassTerminal
	}
}

// backoffDelay returns the wait before the attempt following the given one:
// delay, delay*backoff, delay*backoff^2 and so on.
func (c *Client) backoffDelay(attempt int) time.Duration {
	if c.retryDelay <= 0 {
		return 0
	}
	factor := math.Pow(c.retryBackoff, float64(attempt-1))
	return time.Duration(float64(c.retryDelay) * factor)
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
