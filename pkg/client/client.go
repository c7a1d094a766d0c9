// Package client implements the per-call orchestration in front of
// upstream APIs: derive a fingerprint, serve from cache on a hit, gate
// the call through the rate limiter, execute with retry, account the
// attempt, and cache the fresh response.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/apigate/pkg/cache"
	"github.com/Sternrassler/apigate/pkg/config"
	"github.com/Sternrassler/apigate/pkg/manager"
	"github.com/Sternrassler/apigate/pkg/transport"
)

// Prometheus metrics for orchestrated requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apigate_requests_total",
		Help: "Total orchestrated requests by client and outcome",
	}, []string{"client", "outcome"}) // "cache_hit", "fresh", "rate_limited", "upstream_error"

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apigate_request_duration_seconds",
		Help:    "Orchestrated request duration in seconds by client",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"client"})
)

// Options carries per-call request details.
type Options struct {
	// Params are the logical request parameters used for both key
	// derivation and the wire request.
	Params map[string]any

	// Headers are extra request headers.
	Headers map[string]string

	// Body overrides the JSON-encoded params as the request payload.
	Body []byte

	// TTLOverride replaces the client's default cache TTL for this call.
	TTLOverride *time.Duration
}

// Client drives the per-call state machine on top of the manager.
type Client struct {
	manager  *manager.Manager
	registry *config.Registry
	executor transport.Executor
	retry    RetryConfig
	apis     map[string]UpstreamAPI
	logger   zerolog.Logger
}

// New creates an orchestrating client. The default API variant is built
// from each client's configuration; RegisterAPI overrides it per client.
func New(mgr *manager.Manager, registry *config.Registry, executor transport.Executor) (*Client, error) {
	if mgr == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("config registry is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("transport executor is required")
	}

	return &Client{
		manager:  mgr,
		registry: registry,
		executor: executor,
		retry:    DefaultRetryConfig(),
		apis:     make(map[string]UpstreamAPI),
		logger:   log.With().Str("component", "client").Logger(),
	}, nil
}

// RegisterAPI installs a vendor-specific API variant for a client.
func (c *Client) RegisterAPI(clientName string, api UpstreamAPI) {
	c.apis[clientName] = api
}

// SetRetryConfig replaces the retry policy for upstream calls.
func (c *Client) SetRetryConfig(cfg RetryConfig) {
	c.retry = cfg
}

// Request runs the full per-call state machine and returns either a
// cached or a fresh response.
func (c *Client) Request(ctx context.Context, clientName, method, endpoint string, opts Options) (*manager.Response, error) {
	cfg, err := c.registry.Resolve(clientName)
	if err != nil {
		return nil, err
	}
	if endpoint == "" {
		endpoint = cfg.DefaultEndpoint
	}

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(clientName).Observe(time.Since(start).Seconds())
	}()

	params := c.manager.NormalizeParams(opts.Params, method)
	key, err := c.manager.GenerateCacheKey(clientName, endpoint, method, params)
	if err != nil {
		return nil, err
	}

	// Cache lookup. A miss falls through; corruption and storage
	// failures surface so callers can pick a recovery strategy.
	cached, err := c.manager.GetCachedResponse(ctx, clientName, key)
	if err == nil {
		requestsTotal.WithLabelValues(clientName, "cache_hit").Inc()
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		return nil, err
	}

	// Rate check. The allow decision is a snapshot; the increment below
	// is the authoritative accounting.
	allowed, err := c.manager.AllowRequest(ctx, clientName)
	if err != nil {
		return nil, err
	}
	if !allowed {
		requestsTotal.WithLabelValues(clientName, "rate_limited").Inc()
		return nil, c.manager.RateLimitExceeded(ctx, clientName)
	}

	resp, err := c.execute(ctx, cfg, clientName, method, endpoint, params, opts)
	if err != nil {
		requestsTotal.WithLabelValues(clientName, "upstream_error").Inc()
		// Whether a failed call still consumes quota is explicit policy.
		if c.registry.CountFailedRequests() {
			if _, incErr := c.manager.IncrementAttempts(ctx, clientName, 1); incErr != nil {
				c.logger.Warn().Err(incErr).Str("client", clientName).
					Msg("Failed to account failed request")
			}
		}
		return nil, err
	}

	if _, err := c.manager.IncrementAttempts(ctx, clientName, 1); err != nil {
		c.logger.Warn().Err(err).Str("client", clientName).
			Msg("Failed to account request")
	}

	if err := c.manager.StoreResponse(ctx, clientName, key, resp, opts.TTLOverride); err != nil {
		// The response is still good; the next identical request
		// re-executes and re-stores.
		c.logger.Warn().Err(err).Str("client", clientName).Str("key", key).
			Msg("Failed to cache response")
	}

	requestsTotal.WithLabelValues(clientName, "fresh").Inc()
	return resp, nil
}

// execute performs the upstream call with retry and classification.
func (c *Client) execute(ctx context.Context, cfg *config.ClientConfig, clientName, method, endpoint string, params map[string]any, opts Options) (*manager.Response, error) {
	api := c.apiFor(clientName, cfg)

	method = strings.ToUpper(method)
	fullURL := api.BaseURL() + api.CleanEndpointPath(endpoint)

	execOpts := transport.Options{
		Headers: opts.Headers,
		Body:    opts.Body,
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		execOpts.Query = buildQuery(params, api.ClientFields())
	default:
		execOpts.Query = buildQuery(nil, api.ClientFields())
		if execOpts.Body == nil && len(params) > 0 {
			body, err := json.Marshal(params)
			if err != nil {
				return nil, fmt.Errorf("encode request body: %w", err)
			}
			execOpts.Body = body
			if execOpts.Headers == nil {
				execOpts.Headers = map[string]string{}
			}
			if _, ok := execOpts.Headers["Content-Type"]; !ok {
				execOpts.Headers["Content-Type"] = "application/json"
			}
		}
	}

	var result *transport.Result
	err := retryWithBackoff(ctx, c.retry, func() error {
		var execErr error
		result, execErr = c.executor.Execute(ctx, method, fullURL, execOpts)
		if execErr != nil {
			return &UpstreamError{
				Client:     clientName,
				ErrorClass: ErrorClassNetwork,
				Message:    "request execution failed",
				Err:        execErr,
			}
		}
		if result.StatusCode >= 400 {
			return &UpstreamError{
				Client:     clientName,
				StatusCode: result.StatusCode,
				ErrorClass: classify(result.StatusCode, nil),
				Message:    http.StatusText(result.StatusCode),
			}
		}
		return nil
	}, func(err error) ErrorClass {
		var ue *UpstreamError
		if errors.As(err, &ue) {
			return ue.ErrorClass
		}
		return ErrorClassNetwork
	})
	if err != nil {
		c.logger.Warn().Err(err).
			Str("client", clientName).
			Str("endpoint", endpoint).
			Str("method", method).
			Msg("Upstream request failed")
		return nil, err
	}

	return &manager.Response{
		StatusCode:     result.StatusCode,
		Headers:        result.Headers,
		Body:           result.Body,
		Elapsed:        result.Elapsed,
		Endpoint:       endpoint,
		Method:         method,
		FullURL:        fullURL,
		RequestHeaders: opts.Headers,
		RequestBody:    execOpts.Body,
	}, nil
}

func (c *Client) apiFor(clientName string, cfg *config.ClientConfig) UpstreamAPI {
	if api, ok := c.apis[clientName]; ok {
		return api
	}
	return NewConfigAPI(cfg)
}
