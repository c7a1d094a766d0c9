package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the key is absent or its record has
	// expired. A miss is a normal outcome, never a failure.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidRecord indicates a stored record could not be decoded.
	ErrInvalidRecord = errors.New("invalid cache record")

	// ErrStorageUnavailable indicates the backing store is unreachable.
	// The engine never retries internally; callers decide.
	ErrStorageUnavailable = errors.New("cache storage unavailable")
)

// Store is the persistence contract for cached responses.
//
// Implementations must provide atomic upsert-by-key: a concurrent reader
// sees either the previous record or the new one, never a partial write.
// All operations are scoped to a client namespace; records of different
// clients never interact even under fingerprint collision.
type Store interface {
	// Put upserts a record. When ttl is non-nil the implementation sets
	// ExpiresAt = now + *ttl; a nil ttl stores a never-expiring record.
	// Subsequent Puts for the same key replace the record wholesale.
	Put(ctx context.Context, client string, rec *Record, ttl *time.Duration) error

	// Get returns the record for a fingerprint. A physically present but
	// expired record is reported as ErrCacheMiss and is not deleted
	// (lazy eviction; DeleteExpired does physical removal).
	Get(ctx context.Context, client, key string) (*Record, error)

	// DeleteExpired bulk-removes all records with ExpiresAt <= now and
	// returns the number removed. Independent maintenance operation,
	// never triggered by Get.
	DeleteExpired(ctx context.Context, client string) (int64, error)

	// CountTotal counts all physically present records.
	CountTotal(ctx context.Context, client string) (int64, error)

	// CountActive counts records that have not lazily expired.
	CountActive(ctx context.Context, client string) (int64, error)

	// CountExpired counts lazily expired but not yet swept records.
	CountExpired(ctx context.Context, client string) (int64, error)
}
