// Package manager composes the cache key deriver, compression codec,
// cache store and rate limiter into the operations callers consume.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/apigate/pkg/cache"
	"github.com/Sternrassler/apigate/pkg/cachekey"
	"github.com/Sternrassler/apigate/pkg/compress"
	"github.com/Sternrassler/apigate/pkg/config"
	"github.com/Sternrassler/apigate/pkg/ratelimit"
)

// Response is the caller-facing view of an upstream response, either
// fresh from the wire or reconstructed from the cache.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte

	// Elapsed is the upstream call duration in seconds. For cached
	// responses it reports the duration of the original call.
	Elapsed float64

	// Request metadata carried into the cache record.
	Endpoint       string
	Method         string
	FullURL        string
	RequestHeaders map[string]string
	RequestBody    []byte

	// Cached is true when the response was served from the cache.
	Cached bool
}

// ConfigResolver resolves client names to their configuration.
// *config.Registry satisfies it.
type ConfigResolver interface {
	Resolve(name string) (*config.ClientConfig, error)
}

// Manager orchestrates caching and rate limiting for upstream requests.
type Manager struct {
	store    cache.Store
	limiter  *ratelimit.Limiter
	codec    *compress.Codec
	resolver ConfigResolver
	logger   zerolog.Logger
}

// NewManager creates a manager over the given store and limiter.
func NewManager(store cache.Store, limiter *ratelimit.Limiter, resolver ConfigResolver, logger zerolog.Logger) *Manager {
	if store == nil {
		panic("cache store cannot be nil")
	}
	if limiter == nil {
		panic("rate limiter cannot be nil")
	}
	if resolver == nil {
		panic("config resolver cannot be nil")
	}
	return &Manager{
		store:    store,
		limiter:  limiter,
		codec:    compress.NewCodec(),
		resolver: resolver,
		logger:   logger,
	}
}

// NormalizeParams drops nil values at every nesting level and applies
// method-specific canonicalization before key derivation.
func (m *Manager) NormalizeParams(params map[string]any, method string) map[string]any {
	return cachekey.NormalizeParams(params, method)
}

// GenerateCacheKey derives the deterministic fingerprint for a request.
// The API version comes from the client's configuration.
func (m *Manager) GenerateCacheKey(client, endpoint, method string, params map[string]any) (string, error) {
	cfg, err := m.resolver.Resolve(client)
	if err != nil {
		return "", err
	}
	if endpoint == "" {
		endpoint = cfg.DefaultEndpoint
	}
	return cachekey.Derive(cachekey.Request{
		Client:   client,
		Endpoint: endpoint,
		Method:   method,
		Version:  cfg.Version,
		Params:   cachekey.NormalizeParams(params, method),
	}), nil
}

// GetCachedResponse looks a fingerprint up in the cache. A miss is the
// normal outcome and surfaces as cache.ErrCacheMiss; a record whose
// compressed payload fails to decode surfaces compress.ErrDataCorruption
// and must be treated as unusable, not as absent.
func (m *Manager) GetCachedResponse(ctx context.Context, client, key string) (*Response, error) {
	cfg, err := m.resolver.Resolve(client)
	if err != nil {
		return nil, err
	}

	rec, err := m.store.Get(ctx, client, key)
	if err != nil {
		return nil, err
	}

	headerBytes, err := m.codec.Decompress(rec.ResponseHeaders, cfg)
	if err != nil {
		return nil, fmt.Errorf("decompress response headers for key %s: %w", key, err)
	}
	body, err := m.codec.Decompress(rec.ResponseBody, cfg)
	if err != nil {
		return nil, fmt.Errorf("decompress response body for key %s: %w", key, err)
	}

	headers, err := decodeHeaders(headerBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: response headers: %v", cache.ErrInvalidRecord, err)
	}
	reqHeaders, err := decodeHeaders(rec.RequestHeaders)
	if err != nil {
		return nil, fmt.Errorf("%w: request headers: %v", cache.ErrInvalidRecord, err)
	}

	m.logger.Debug().
		Str("client", client).
		Str("key", key).
		Str("endpoint", rec.Endpoint).
		Msg("Cache hit")

	return &Response{
		StatusCode:     rec.StatusCode,
		Headers:        headers,
		Body:           body,
		Elapsed:        rec.ResponseTime,
		Endpoint:       rec.Endpoint,
		Method:         rec.Method,
		FullURL:        rec.FullURL,
		RequestHeaders: reqHeaders,
		RequestBody:    rec.RequestBody,
		Cached:         true,
	}, nil
}

// StoreResponse persists a fresh upstream response under a fingerprint.
// Response headers and body are compressed at rest when the client has
// compression enabled. Expiry comes from ttlOverride when non-nil, else
// the client's default TTL; a nil TTL means the record never expires.
func (m *Manager) StoreResponse(ctx context.Context, client, key string, resp *Response, ttlOverride *time.Duration) error {
	if resp == nil {
		return fmt.Errorf("response cannot be nil")
	}

	cfg, err := m.resolver.Resolve(client)
	if err != nil {
		return err
	}

	headerBytes, err := encodeHeaders(resp.Headers)
	if err != nil {
		return fmt.Errorf("encode response headers: %w", err)
	}
	reqHeaderBytes, err := encodeHeaders(resp.RequestHeaders)
	if err != nil {
		return fmt.Errorf("encode request headers: %w", err)
	}

	storedHeaders, err := m.codec.Compress(headerBytes, cfg)
	if err != nil {
		return fmt.Errorf("compress response headers: %w", err)
	}
	storedBody, err := m.codec.Compress(resp.Body, cfg)
	if err != nil {
		return fmt.Errorf("compress response body: %w", err)
	}

	ttl := ttlOverride
	if ttl == nil {
		ttl = cfg.TTL()
	}

	rec := &cache.Record{
		Key:             key,
		Client:          client,
		Version:         cfg.Version,
		Endpoint:        resp.Endpoint,
		BaseURL:         cfg.BaseURL,
		FullURL:         resp.FullURL,
		Method:          resp.Method,
		RequestHeaders:  reqHeaderBytes,
		RequestBody:     resp.RequestBody,
		ResponseHeaders: storedHeaders,
		ResponseBody:    storedBody,
		StatusCode:      resp.StatusCode,
		ResponseSize:    int64(len(resp.Body)),
		ResponseTime:    resp.Elapsed,
	}

	if err := m.store.Put(ctx, client, rec, ttl); err != nil {
		return err
	}

	m.logger.Debug().
		Str("client", client).
		Str("key", key).
		Str("endpoint", resp.Endpoint).
		Bool("compressed", m.codec.Enabled(cfg)).
		Msg("Cached response")

	return nil
}

// AllowRequest delegates to the rate limiter.
func (m *Manager) AllowRequest(ctx context.Context, client string) (bool, error) {
	return m.limiter.AllowRequest(ctx, client)
}

// RemainingAttempts delegates to the rate limiter.
func (m *Manager) RemainingAttempts(ctx context.Context, client string) (int64, error) {
	return m.limiter.RemainingAttempts(ctx, client)
}

// AvailableIn delegates to the rate limiter.
func (m *Manager) AvailableIn(ctx context.Context, client string) (time.Duration, error) {
	return m.limiter.AvailableIn(ctx, client)
}

// IncrementAttempts delegates to the rate limiter.
func (m *Manager) IncrementAttempts(ctx context.Context, client string, n int64) (*ratelimit.Window, error) {
	return m.limiter.IncrementAttempts(ctx, client, n)
}

// Clear delegates to the rate limiter.
func (m *Manager) Clear(ctx context.Context, client string) error {
	return m.limiter.Clear(ctx, client)
}

// RateLimitExceeded builds the typed denial error for a client.
func (m *Manager) RateLimitExceeded(ctx context.Context, client string) error {
	return m.limiter.Exceeded(ctx, client)
}

func encodeHeaders(headers map[string]string) ([]byte, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	return json.Marshal(headers)
}

func decodeHeaders(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return map[string]string{}, nil
	}
	var headers map[string]string
	if err := json.Unmarshal(data, &headers); err != nil {
		return nil, err
	}
	return headers, nil
}
