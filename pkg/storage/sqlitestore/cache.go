package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/apigate/pkg/cache"
)

// Put upserts a record. The single-writer connection makes the upsert
// atomic; the original created_at survives replacement.
func (s *Store) Put(ctx context.Context, client string, rec *cache.Record, ttl *time.Duration) error {
	if rec == nil {
		return fmt.Errorf("cache record cannot be nil")
	}

	now := time.Now()
	var expiresAt sql.NullInt64
	if ttl != nil {
		expiresAt = sql.NullInt64{Int64: now.Add(*ttl).UnixNano(), Valid: true}
	}

	_, err := s.write.ExecContext(ctx,
		`INSERT INTO cache_records (client, key, version, endpoint, base_url, full_url, method,
		 request_headers, request_body, response_headers, response_body,
		 status_code, response_size, response_time, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (client, key) DO UPDATE SET
		   version = excluded.version,
		   endpoint = excluded.endpoint,
		   base_url = excluded.base_url,
		   full_url = excluded.full_url,
		   method = excluded.method,
		   request_headers = excluded.request_headers,
		   request_body = excluded.request_body,
		   response_headers = excluded.response_headers,
		   response_body = excluded.response_body,
		   status_code = excluded.status_code,
		   response_size = excluded.response_size,
		   response_time = excluded.response_time,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		client, rec.Key, rec.Version, rec.Endpoint, rec.BaseURL, rec.FullURL, rec.Method,
		rec.RequestHeaders, rec.RequestBody, rec.ResponseHeaders, rec.ResponseBody,
		rec.StatusCode, rec.ResponseSize, rec.ResponseTime,
		expiresAt, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		cache.Errors.WithLabelValues(backend, "put").Inc()
		return fmt.Errorf("%w: insert cache record: %v", cache.ErrStorageUnavailable, err)
	}

	cache.StoredBytes.WithLabelValues(backend).Add(float64(len(rec.ResponseBody)))
	return nil
}

// Get returns the record for a fingerprint, treating expired rows as
// misses without deleting them.
func (s *Store) Get(ctx context.Context, client, key string) (*cache.Record, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT client, key, version, endpoint, base_url, full_url, method,
		 request_headers, request_body, response_headers, response_body,
		 status_code, response_size, response_time, expires_at, created_at, updated_at
		 FROM cache_records WHERE client = ? AND key = ?`,
		client, key,
	)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			cache.Misses.WithLabelValues(backend).Inc()
			return nil, cache.ErrCacheMiss
		}
		cache.Errors.WithLabelValues(backend, "get").Inc()
		return nil, fmt.Errorf("%w: select cache record: %v", cache.ErrStorageUnavailable, err)
	}

	if rec.Expired(time.Now()) {
		cache.Misses.WithLabelValues(backend).Inc()
		return nil, cache.ErrCacheMiss
	}

	cache.Hits.WithLabelValues(backend).Inc()
	return rec, nil
}

// DeleteExpired removes all rows whose expiry has passed.
func (s *Store) DeleteExpired(ctx context.Context, client string) (int64, error) {
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM cache_records
		 WHERE client = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		client, time.Now().UnixNano(),
	)
	if err != nil {
		cache.Errors.WithLabelValues(backend, "sweep").Inc()
		return 0, fmt.Errorf("%w: delete expired: %v", cache.ErrStorageUnavailable, err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if removed > 0 {
		cache.Evictions.WithLabelValues(backend).Add(float64(removed))
	}
	return removed, nil
}

// CountTotal counts all physically present records for a client.
func (s *Store) CountTotal(ctx context.Context, client string) (int64, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM cache_records WHERE client = ?`,
		client)
}

// CountActive counts records that have not lazily expired.
func (s *Store) CountActive(ctx context.Context, client string) (int64, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM cache_records
		 WHERE client = ? AND (expires_at IS NULL OR expires_at > ?)`,
		client, time.Now().UnixNano())
}

// CountExpired counts lazily expired but not yet swept records.
func (s *Store) CountExpired(ctx context.Context, client string) (int64, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM cache_records
		 WHERE client = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		client, time.Now().UnixNano())
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := s.read.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		cache.Errors.WithLabelValues(backend, "count").Inc()
		return 0, fmt.Errorf("%w: count cache records: %v", cache.ErrStorageUnavailable, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*cache.Record, error) {
	var rec cache.Record
	var expiresAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&rec.Client, &rec.Key, &rec.Version, &rec.Endpoint, &rec.BaseURL, &rec.FullURL, &rec.Method,
		&rec.RequestHeaders, &rec.RequestBody, &rec.ResponseHeaders, &rec.ResponseBody,
		&rec.StatusCode, &rec.ResponseSize, &rec.ResponseTime,
		&expiresAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		exp := time.Unix(0, expiresAt.Int64)
		rec.ExpiresAt = &exp
	}
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.UpdatedAt = time.Unix(0, updatedAt)
	return &rec, nil
}
