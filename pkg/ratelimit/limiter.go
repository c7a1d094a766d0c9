package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/apigate/pkg/config"
)

// Prometheus metrics for rate limit decisions.
var (
	rateLimitAllowedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apigate_ratelimit_allowed_total",
		Help: "Total number of allowed rate limit checks by client",
	}, []string{"client"})

	rateLimitDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apigate_ratelimit_denied_total",
		Help: "Total number of denied rate limit checks by client",
	}, []string{"client"})

	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "apigate_ratelimit_remaining",
		Help: "Remaining attempts in the current window by client",
	}, []string{"client"})

	rateLimitWindowsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apigate_ratelimit_windows_opened_total",
		Help: "Total number of fresh rate limit windows opened by client",
	}, []string{"client"})
)

// ConfigResolver resolves client names to their configuration.
// *config.Registry satisfies it.
type ConfigResolver interface {
	Resolve(name string) (*config.ClientConfig, error)
}

// Limiter makes allow/deny and remaining-quota decisions on top of a
// shared window Store.
type Limiter struct {
	store    Store
	resolver ConfigResolver
	logger   zerolog.Logger
}

// NewLimiter creates a rate limiter.
func NewLimiter(store Store, resolver ConfigResolver, logger zerolog.Logger) *Limiter {
	if store == nil {
		panic("rate limit store cannot be nil")
	}
	if resolver == nil {
		panic("config resolver cannot be nil")
	}
	return &Limiter{
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
}

// AllowRequest reports whether the client still has quota in the current
// window. A lapsed or absent window counts as empty. The decision is a
// snapshot: a concurrent increment may invalidate it before the caller
// acts, which is accepted as best-effort admission control.
func (l *Limiter) AllowRequest(ctx context.Context, client string) (bool, error) {
	cfg, err := l.resolver.Resolve(client)
	if err != nil {
		return false, err
	}

	count, err := l.currentCount(ctx, client)
	if err != nil {
		return false, err
	}

	allowed := count < int64(cfg.MaxRequests)
	if allowed {
		rateLimitAllowedTotal.WithLabelValues(client).Inc()
	} else {
		rateLimitDeniedTotal.WithLabelValues(client).Inc()
		l.logger.Warn().
			Str("client", client).
			Int64("request_count", count).
			Int("max_requests", cfg.MaxRequests).
			Msg("Rate limit exhausted")
	}
	return allowed, nil
}

// RemainingAttempts returns max_requests - request_count for the current
// window. Not clamped: increments past the cap drive it negative, and the
// negative value is reported faithfully.
func (l *Limiter) RemainingAttempts(ctx context.Context, client string) (int64, error) {
	cfg, err := l.resolver.Resolve(client)
	if err != nil {
		return 0, err
	}

	count, err := l.currentCount(ctx, client)
	if err != nil {
		return 0, err
	}

	remaining := int64(cfg.MaxRequests) - count
	rateLimitRemaining.WithLabelValues(client).Set(float64(remaining))
	return remaining, nil
}

// AvailableIn returns the time until the current window lapses.
// Returns 0 when no window is active or the window has already lapsed.
func (l *Limiter) AvailableIn(ctx context.Context, client string) (time.Duration, error) {
	if _, err := l.resolver.Resolve(client); err != nil {
		return 0, err
	}

	w, found, err := l.store.Current(ctx, client)
	if err != nil {
		return 0, fmt.Errorf("get rate limit window: %w", err)
	}
	if !found {
		return 0, nil
	}
	return w.Remaining(time.Now()), nil
}

// IncrementAttempts atomically adds n to the client's window counter,
// opening a fresh window first when none is active.
func (l *Limiter) IncrementAttempts(ctx context.Context, client string, n int64) (*Window, error) {
	cfg, err := l.resolver.Resolve(client)
	if err != nil {
		return nil, err
	}

	w, err := l.store.Increment(ctx, client, n, cfg.MaxRequests, cfg.DecaySeconds)
	if err != nil {
		return nil, fmt.Errorf("increment rate limit: %w", err)
	}

	if w.RequestCount == n {
		rateLimitWindowsOpened.WithLabelValues(client).Inc()
	}
	rateLimitRemaining.WithLabelValues(client).Set(float64(int64(cfg.MaxRequests) - w.RequestCount))

	l.logger.Debug().
		Str("client", client).
		Int64("request_count", w.RequestCount).
		Int("max_requests", w.MaxRequests).
		Time("window_start", w.WindowStart).
		Msg("Rate limit counter incremented")

	return w, nil
}

// Clear resets the client to the no-window state, which immediately
// restores the full quota.
func (l *Limiter) Clear(ctx context.Context, client string) error {
	cfg, err := l.resolver.Resolve(client)
	if err != nil {
		return err
	}

	if err := l.store.Clear(ctx, client); err != nil {
		return fmt.Errorf("clear rate limit window: %w", err)
	}
	rateLimitRemaining.WithLabelValues(client).Set(float64(cfg.MaxRequests))

	l.logger.Info().Str("client", client).Msg("Rate limit window cleared")
	return nil
}

// Exceeded builds the typed denial error for a client, capturing the
// retry-after interval from the current window.
func (l *Limiter) Exceeded(ctx context.Context, client string) error {
	availableIn, err := l.AvailableIn(ctx, client)
	if err != nil {
		availableIn = 0
	}
	return &RateLimitExceededError{Client: client, AvailableIn: availableIn}
}

// currentCount reads the effective counter: a lapsed or absent window
// counts as 0 without being touched (lazy rollover).
func (l *Limiter) currentCount(ctx context.Context, client string) (int64, error) {
	w, found, err := l.store.Current(ctx, client)
	if err != nil {
		return 0, fmt.Errorf("get rate limit window: %w", err)
	}
	if !found || w.Expired(time.Now()) {
		return 0, nil
	}
	return w.RequestCount, nil
}
