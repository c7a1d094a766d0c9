// Package ratelimit enforces per-client request quotas over fixed windows.
// Window state lives in shared storage so independent processes account
// against the same counter; expiry is detected lazily on the next access,
// never by a background timer.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStorageUnavailable indicates the backing store is unreachable.
var ErrStorageUnavailable = errors.New("rate limit storage unavailable")

// Window is one fixed rate-limit window for a client.
type Window struct {
	// WindowStart is when the window opened.
	WindowStart time.Time `json:"window_start"`

	// RequestCount is the number of attempts recorded in the window.
	// It can exceed MaxRequests: callers may legitimately increment
	// after being denied, and the overshoot is reported faithfully.
	RequestCount int64 `json:"request_count"`

	// MaxRequests is the quota the window was opened with.
	MaxRequests int `json:"max_requests"`

	// DecaySeconds is the window length the window was opened with.
	DecaySeconds int `json:"decay_seconds"`
}

// Expired reports whether the window has lapsed at time now.
// A lapsed window is replaced wholesale on the next increment, never
// incrementally repaired.
func (w *Window) Expired(now time.Time) bool {
	return !now.Before(w.WindowStart.Add(time.Duration(w.DecaySeconds) * time.Second))
}

// Remaining returns the time until the window lapses, 0 if already lapsed.
func (w *Window) Remaining(now time.Time) time.Duration {
	d := w.WindowStart.Add(time.Duration(w.DecaySeconds) * time.Second).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Store is the persistence contract for window counters.
//
// Increment must be a single atomic increment-and-return operation at the
// storage layer, not a read-compute-write sequence, so concurrent callers
// never lose increments.
type Store interface {
	// Increment adds n to the current window's counter and returns the
	// resulting window. When no window exists, or the existing one has
	// lapsed, a fresh window (count 0, start = now) is opened first,
	// atomically with the increment.
	Increment(ctx context.Context, client string, n int64, maxRequests, decaySeconds int) (*Window, error)

	// Current returns the stored window for a client, which may already
	// have lapsed. found is false when the client has no window.
	Current(ctx context.Context, client string) (w *Window, found bool, err error)

	// Clear resets the client to the no-window state.
	Clear(ctx context.Context, client string) error
}

// RateLimitExceededError signals that a client's quota is exhausted and
// carries the interval the caller must wait before retrying.
type RateLimitExceededError struct {
	Client      string
	AvailableIn time.Duration
}

// Error implements the error interface.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for client %q, available in %s", e.Client, e.AvailableIn)
}
