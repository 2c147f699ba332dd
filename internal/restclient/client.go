package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/basket/go-steward/internal/shared"
)

const (
	maxAttempts  = 3
	backoffBase  = 2 * time.Second
	backoffCeil  = 10 * time.Second
	maxErrorBody = 2048
)

// Request describes one outbound API call.
type Request struct {
	Method string
	URL    string
	Header http.Header

	// Body is marshaled to JSON when non-nil. []byte and io.Reader
	// bodies pass through unmodified.
	Body any
}

// Response holds the successful result of Do.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// FallbackPolicy substitutes request parameters when the remote rejects
// them permanently, e.g. swapping a decommissioned model for an
// alternate before burning a retry attempt.
type FallbackPolicy struct {
	// Matches reports whether the failure is one this policy can route
	// around.
	Matches func(err *APIError) bool

	// Alternates are tried in order; each is passed to Apply.
	Alternates []string

	// Apply rewrites the request to use the alternate. Returning false
	// skips the alternate.
	Apply func(req *Request, alternate string) bool
}

// Client is a retrying HTTP client shared by every outbound integration.
// Transient failures back off exponentially, rate-limited failures sleep
// for the advertised reset, and fatal failures surface immediately.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	// sleep is swappable so tests can observe waits without waiting.
	sleep func(ctx context.Context, d time.Duration) error

	// onRetry is invoked before each retry sleep, for metrics.
	onRetry func(class ErrorClass, wait time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleep overrides the retry sleep function.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithRetryHook registers a callback fired before each retry wait.
func WithRetryHook(fn func(class ErrorClass, wait time.Duration)) Option {
	return func(c *Client) { c.onRetry = fn }
}

func New(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do executes the request with retry and classification. A nil error
// guarantees a 2xx response. The last attempt's error is returned when
// all attempts are exhausted.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	return c.DoWithFallback(ctx, req, nil)
}

// DoWithFallback executes the request like Do, additionally consulting
// the fallback policy when a matching fatal error occurs. Alternates do
// not consume retry attempts.
func (c *Client) DoWithFallback(ctx context.Context, req Request, policy *FallbackPolicy) (*Response, error) {
	resp, err := c.doRetry(ctx, req)
	if err == nil || policy == nil {
		return resp, err
	}

	var apiErr *APIError
	if !asAPIError(err, &apiErr) || policy.Matches == nil || !policy.Matches(apiErr) {
		return nil, err
	}

	for _, alt := range policy.Alternates {
		altReq := req.clone()
		if policy.Apply == nil || !policy.Apply(&altReq, alt) {
			continue
		}
		c.logger.Warn("falling back to alternate",
			"url", shared.RedactURL(req.URL), "alternate", alt)
		resp, err = c.doRetry(ctx, altReq)
		if err == nil {
			return resp, nil
		}
		if !asAPIError(err, &apiErr) || !policy.Matches(apiErr) {
			return nil, err
		}
	}
	return nil, err
}

func (c *Client) doRetry(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.doOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		class, wait := c.retryPlan(err, attempt)
		if class == ErrorClassFatal || attempt == maxAttempts {
			break
		}

		c.logger.Warn("retrying after failure",
			"method", req.Method,
			"url", shared.RedactURL(req.URL),
			"attempt", attempt,
			"class", string(class),
			"wait", wait.String(),
			"error", shared.Redact(err.Error()))
		if c.onRetry != nil {
			c.onRetry(class, wait)
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// retryPlan decides whether and how long to wait before the next attempt.
func (c *Client) retryPlan(err error, attempt int) (ErrorClass, time.Duration) {
	var apiErr *APIError
	if !asAPIError(err, &apiErr) {
		// Network-level failure, no response to inspect.
		return ErrorClassTransient, backoff(attempt)
	}
	switch apiErr.Class {
	case ErrorClassRateLimited:
		if apiErr.RetryAfter > 0 {
			return ErrorClassRateLimited, apiErr.RetryAfter
		}
		return ErrorClassRateLimited, backoff(attempt)
	case ErrorClassTransient:
		return ErrorClassTransient, backoff(attempt)
	default:
		return ErrorClassFatal, 0
	}
}

// backoff returns the exponential wait for the given attempt number,
// starting at backoffBase and doubling up to backoffCeil.
func backoff(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCeil {
			return backoffCeil
		}
	}
	if d > backoffCeil {
		return backoffCeil
	}
	return d
}

func (c *Client) doOnce(ctx context.Context, req Request) (*Response, error) {
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, shared.RedactURL(req.URL), err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", req.Method, shared.RedactURL(req.URL), err)
	}

	// Every response is logged before classification so even a fatal
	// first attempt leaves a trace.
	level := slog.LevelDebug
	if httpResp.StatusCode >= 300 {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "http response",
		"method", req.Method, "url", shared.RedactURL(req.URL), "status", httpResp.StatusCode)

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       data,
		}, nil
	}

	apiErr := &APIError{
		Class:      classifyStatus(httpResp),
		StatusCode: httpResp.StatusCode,
		Method:     req.Method,
		URL:        shared.RedactURL(req.URL),
		Body:       truncate(shared.Redact(string(data)), maxErrorBody),
	}
	if apiErr.Class == ErrorClassRateLimited {
		if wait, ok := parseRetryAfter(httpResp); ok {
			apiErr.RetryAfter = wait
		}
	}
	return nil, apiErr
}

func (r Request) clone() Request {
	out := r
	out.Header = r.Header.Clone()
	return out
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case io.Reader:
		return b, "", nil
	case string:
		return strings.NewReader(b), "", nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}
