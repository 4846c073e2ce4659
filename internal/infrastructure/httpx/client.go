// Package httpx is the JSON-over-HTTP helper shared by upstream clients.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// InitialInterval seeds the exponential backoff between attempts.
	InitialInterval time.Duration
	// RequestsPerSecond throttles outgoing calls; zero disables throttling.
	RequestsPerSecond float64
	UserAgent         string
}

// Client sends JSON requests with throttling and bounded retries.
type Client struct {
	http        *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	initialWait time.Duration
	userAgent   string
}

// New builds a Client; a nil HTTPClient gets a 20s timeout client.
func New(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	initial := opts.InitialInterval
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	c := &Client{
		http:        client,
		maxRetries:  opts.MaxRetries,
		initialWait: initial,
		userAgent:   opts.UserAgent,
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Request describes one call.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Payload any
}

// DoJSON sends req and decodes a JSON response into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	raw, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Do sends req and returns the raw response body of a 2xx answer.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	var body []byte
	if req.Payload != nil {
		encoded, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = encoded
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialWait
	policy.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx)

	var result []byte
	operation := func() error {
		raw, err := c.once(ctx, req, body)
		if err == nil {
			result = raw
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) once(ctx context.Context, req Request, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := raw
		if len(snippet) > 1024 {
			snippet = snippet[:1024]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	return raw, nil
}
