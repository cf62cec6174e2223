// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fetch

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultMaxAttempts is the number of attempts for retryable failures.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the backoff before the second attempt. Each later
	// attempt doubles it.
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay caps the backoff.
	DefaultMaxDelay = 10 * time.Second

	// maxErrorBody bounds how much of an error response is read.
	// SECURITY: Response size limit prevents memory exhaustion.
	maxErrorBody = 64 * 1024
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// No client timeout: streams are bounded by the caller's context.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// TYPES
// =============================================================================

// Request describes one HTTP request. Body is resent unchanged on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// LineHandler receives each decoded line of a successful response.
type LineHandler func(line string)

// ErrorExtractor turns a non-2xx response into a human-readable message.
type ErrorExtractor func(status int, body []byte) string

// Client performs streamed requests with retry.
type Client struct {
	http        *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	limiter     *rate.Limiter
	logger      *zap.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client with default retry settings.
func NewClient() *Client {
	return &Client{
		http:        sharedStreamingClient,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		logger:      zap.NewNop(),
		sleep:       sleepContext,
	}
}

// WithHTTPClient sets the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.http = hc
	}
	return c
}

// WithMaxAttempts sets the attempt bound (minimum 1).
func (c *Client) WithMaxAttempts(n int) *Client {
	if n < 1 {
		n = 1
	}
	c.maxAttempts = n
	return c
}

// WithBackoff sets the base and maximum backoff delays.
func (c *Client) WithBackoff(base, max time.Duration) *Client {
	if base > 0 {
		c.baseDelay = base
	}
	if max > 0 {
		c.maxDelay = max
	}
	return c
}

// WithRateLimit paces attempts with a token bucket. A non-positive rate
// disables pacing.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	if perSecond <= 0 {
		c.limiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// MaxAttempts returns the attempt bound.
func (c *Client) MaxAttempts() int {
	return c.maxAttempts
}

// =============================================================================
// STREAMING WITH RETRY
// =============================================================================

// Stream performs req and delivers each line of the response to onLine.
//
// Non-retryable statuses fail after one attempt. Retryable failures are
// retried up to the attempt bound with exponential backoff; the last error
// is returned when attempts run out. A cancelled ctx yields an error for
// which IsCanceled is true.
func (c *Client) Stream(ctx context.Context, req Request, onLine LineHandler, extract ErrorExtractor) error {
	if extract == nil {
		extract = func(status int, _ []byte) string { return http.StatusText(status) }
	}
	if req.Method == "" {
		req.Method = http.MethodPost
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.Backoff(attempt)
			c.logger.Warn("retrying request",
				zap.String("host", hostOf(req.URL)),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := c.sleep(ctx, delay); err != nil {
				return canceled(ctx)
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return canceled(ctx)
				}
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		delivered, err := c.attempt(ctx, req, onLine, extract)
		if err == nil {
			return nil
		}
		// RELIABILITY: Cancellation is checked first so an aborted read is
		// never mistaken for a network failure.
		if ctx.Err() != nil {
			return canceled(ctx)
		}

		var terr *TransientError
		if !errors.As(err, &terr) {
			return err
		}
		lastErr = err
		if delivered > 0 {
			// Retrying would deliver lines twice.
			return err
		}
	}
	return lastErr
}

// attempt performs a single request. It returns how many lines were delivered.
func (c *Client) attempt(ctx context.Context, req Request, onLine LineHandler, extract ErrorExtractor) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, &TransientError{Message: "Could not reach the provider.", Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("response received",
		zap.String("host", hostOf(req.URL)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := extract(resp.StatusCode, body)
		if Retryable(resp.StatusCode) {
			return 0, &TransientError{Status: resp.StatusCode, Message: msg}
		}
		return 0, &ProviderError{Status: resp.StatusCode, Message: msg}
	}

	return c.readLines(ctx, resp.Body, onLine)
}

// readLines splits body into lines and hands them to onLine.
func (c *Client) readLines(ctx context.Context, body io.Reader, onLine LineHandler) (int, error) {
	reader := bufio.NewReader(body)
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return delivered, &TransientError{Message: "The response stream was interrupted.", Err: err}
		}

		// At EOF, line holds the trailing fragment, which is flushed.
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) != "" {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return delivered, ctxErr
			}
			onLine(line)
			delivered++
		}

		if err != nil {
			return delivered, nil
		}
	}
}

// Backoff returns the delay before the given attempt (attempt >= 2):
// base, 2*base, 4*base, ... capped at the maximum delay.
func (c *Client) Backoff(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	shift := attempt - 2
	if shift > 30 {
		return c.maxDelay
	}
	delay := c.baseDelay * time.Duration(1<<uint(shift))
	if delay > c.maxDelay || delay <= 0 {
		delay = c.maxDelay
	}
	return delay
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// hostOf returns the host part of rawURL for logging. Paths and queries may
// carry credentials and are never logged.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
