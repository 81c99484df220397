package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/aicostmanager/aicostmanager-go/pkg/telemetry/logging"
)

const (
	// backoffBase is the first retry delay.
	backoffBase = 1 * time.Second

	// backoffCap bounds the retry delay.
	backoffCap = 30 * time.Second

	// DefaultTimeout is the per-request timeout when none is configured.
	DefaultTimeout = 10 * time.Second
)

// Config contains configuration for a Client.
type Config struct {
	// APIKey is sent as a bearer token on every request. Required.
	APIKey string

	// UserAgent identifies the SDK to the server.
	UserAgent string

	// Timeout is the per-request timeout. Default: 10s.
	Timeout time.Duration

	// LogBodies enables redacted request/response body logging.
	LogBodies bool

	// Logger receives dispatch logs. Defaults to logging.Default().
	Logger *logging.Logger

	// HTTPClient overrides the HTTP client, mainly for tests.
	HTTPClient *http.Client
}

// Client performs JSON POSTs and GETs with the shared retry policy.
// It is safe for concurrent use.
type Client struct {
	apiKey    string
	userAgent string
	logBodies bool
	logger    *logging.Logger
	client    *http.Client
}

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// New creates a Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "aicostmanager-go"
	}
	return &Client{
		apiKey:    cfg.APIKey,
		userAgent: userAgent,
		logBodies: cfg.LogBodies,
		logger:    logger.Component("dispatch"),
		client:    client,
	}
}

// Post sends body as JSON to url, retrying per the shared policy up to
// maxAttempts attempts. A 4xx response returns *APIError immediately.
func (c *Client) Post(ctx context.Context, url string, body []byte, maxAttempts int) (*Response, error) {
	return c.do(ctx, http.MethodPost, url, body, maxAttempts)
}

// Get fetches url with the same retry policy as Post.
func (c *Client) Get(ctx context.Context, url string, maxAttempts int) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, nil, maxAttempts)
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, maxAttempts int) (*Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if c.logBodies && body != nil {
		c.logger.Debug("request body",
			"method", method,
			"url", url,
			"body", c.logger.Redactor().RedactBody(body),
		)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			c.logger.Debug("retrying request",
				"method", method,
				"url", url,
				"attempt", attempt+1,
				"backoff", delay,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Network error or timeout: retryable.
			lastErr = err
			c.logger.Warn("request failed",
				"method", method,
				"url", url,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if c.logBodies {
			c.logger.Debug("response body",
				"url", url,
				"status", resp.StatusCode,
				"body", c.logger.Redactor().RedactBody(respBody),
			)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
		case resp.StatusCode >= 500:
			// Server error: retryable.
			lastErr = newAPIError(resp.StatusCode, respBody)
			c.logger.Warn("server error, will retry",
				"url", url,
				"status", resp.StatusCode,
				"attempt", attempt+1,
			)
		default:
			// 4xx: terminal.
			return nil, newAPIError(resp.StatusCode, respBody)
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

// backoffDelay returns the exponential backoff delay with jitter for the
// given attempt number (1-based for the first retry).
func backoffDelay(attempt int) time.Duration {
	delay := backoffBase << (attempt - 1)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	// Full jitter on the upper half keeps retries spread without
	// collapsing the minimum wait.
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
