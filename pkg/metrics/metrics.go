// Package metrics provides the central Prometheus registry reference for
// the engine. All metrics are defined in their owning packages (cache,
// ratelimit, client, sweep) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - apigate_cache_hits_total{backend} (Counter): Cache hits by storage backend
//   - apigate_cache_misses_total{backend} (Counter): Cache misses, including lazy-expiry misses
//   - apigate_cache_stored_bytes_total{backend} (Counter): Bytes written to the cache
//   - apigate_cache_evictions_total{backend} (Counter): Expired records removed by sweeps
//   - apigate_cache_errors_total{backend, operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - apigate_ratelimit_allowed_total{client} (Counter): Allowed rate limit checks
//   - apigate_ratelimit_denied_total{client} (Counter): Denied rate limit checks
//   - apigate_ratelimit_remaining{client} (Gauge): Remaining attempts in the current window
//   - apigate_ratelimit_windows_opened_total{client} (Counter): Fresh windows opened
//
// Request Metrics (pkg/client):
//   - apigate_requests_total{client, outcome} (Counter): Orchestrated requests by outcome
//   - apigate_request_duration_seconds{client} (Histogram): Request duration
//
// Retry Metrics (pkg/client):
//   - apigate_retries_total{error_class} (Counter): Retry attempts by error class
//   - apigate_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - apigate_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Sweep Metrics (pkg/sweep):
//   - apigate_sweep_runs_total (Counter): Completed sweep passes
//   - apigate_sweep_removed_total{client} (Counter): Records removed per client
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(apigate_cache_hits_total[5m])) /
//   (sum(rate(apigate_cache_hits_total[5m])) + sum(rate(apigate_cache_misses_total[5m])))
//
//   # Denial Rate per Client
//   rate(apigate_ratelimit_denied_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(apigate_request_duration_seconds_bucket[5m]))
//
//   # Sweep Throughput
//   rate(apigate_sweep_removed_total[15m])
