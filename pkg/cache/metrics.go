package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hits tracks cache hits by storage backend.
	Hits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apigate_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"}, // "redis", "sqlite"
	)

	// Misses tracks cache misses, including lazy-expiry misses.
	Misses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apigate_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"backend"},
	)

	// StoredBytes tracks bytes written to the cache by backend.
	StoredBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apigate_cache_stored_bytes_total",
			Help: "Total bytes written to the cache",
		},
		[]string{"backend"},
	)

	// Evictions tracks records physically removed by DeleteExpired.
	Evictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apigate_cache_evictions_total",
			Help: "Total number of expired records removed by sweeps",
		},
		[]string{"backend"},
	)

	// Errors tracks cache operation errors.
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apigate_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"backend", "operation"}, // "get", "put", "sweep", "count"
	)
)
