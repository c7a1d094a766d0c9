// Package transport executes upstream HTTP calls on behalf of the
// engine. The engine is agnostic to connection handling; callers that
// need retries or pooling policies wrap or replace the Executor.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Options carries per-call request details.
type Options struct {
	// Headers are sent verbatim on the request.
	Headers map[string]string

	// Query is appended to the URL.
	Query url.Values

	// Body is the request payload, nil for body-less methods.
	Body []byte
}

// Result is the outcome of one upstream call.
type Result struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte

	// Elapsed is the call duration in seconds.
	Elapsed float64
}

// Executor performs a single upstream HTTP call.
type Executor interface {
	Execute(ctx context.Context, method, rawURL string, opts Options) (*Result, error)
}

// HTTPExecutor is the net/http-backed Executor.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates an executor with the given timeout.
func NewHTTPExecutor(timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{
		client: &http.Client{Timeout: timeout},
	}
}

// SetHTTPClient swaps the underlying client (for testing).
func (e *HTTPExecutor) SetHTTPClient(client *http.Client) {
	e.client = client
}

// Execute performs the call and captures status, headers, body and
// elapsed time.
func (e *HTTPExecutor) Execute(ctx context.Context, method, rawURL string, opts Options) (*Result, error) {
	fullURL := rawURL
	if len(opts.Query) > 0 {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		q := parsed.Query()
		for k, vs := range opts.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		parsed.RawQuery = q.Encode()
		fullURL = parsed.String()
	}

	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       respBody,
		Elapsed:    time.Since(start).Seconds(),
	}, nil
}
