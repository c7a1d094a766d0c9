package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/apigate/pkg/ratelimit"
)

// Increment advances the client's window counter. The whole operation
// runs in one transaction on the single-writer connection, so concurrent
// callers serialize and no increment is lost.
func (s *Store) Increment(ctx context.Context, client string, n int64, maxRequests, decaySeconds int) (*ratelimit.Window, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", ratelimit.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	now := time.Now()

	var start int64
	var decay int
	err = tx.QueryRowContext(ctx,
		`SELECT window_start, decay_seconds FROM rate_limit_windows WHERE client = ?`,
		client,
	).Scan(&start, &decay)

	fresh := errors.Is(err, sql.ErrNoRows)
	if err != nil && !fresh {
		return nil, fmt.Errorf("%w: select window: %v", ratelimit.ErrStorageUnavailable, err)
	}
	if !fresh {
		lapsed := time.Unix(0, start).Add(time.Duration(decay) * time.Second)
		fresh = !now.Before(lapsed)
	}

	if fresh {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO rate_limit_windows (client, window_start, request_count, max_requests, decay_seconds)
			 VALUES (?, ?, 0, ?, ?)
			 ON CONFLICT (client) DO UPDATE SET
			   window_start = excluded.window_start,
			   request_count = 0,
			   max_requests = excluded.max_requests,
			   decay_seconds = excluded.decay_seconds`,
			client, now.UnixNano(), maxRequests, decaySeconds,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: open window: %v", ratelimit.ErrStorageUnavailable, err)
		}
	}

	var w ratelimit.Window
	var windowStart int64
	err = tx.QueryRowContext(ctx,
		`UPDATE rate_limit_windows SET request_count = request_count + ?
		 WHERE client = ?
		 RETURNING window_start, request_count, max_requests, decay_seconds`,
		n, client,
	).Scan(&windowStart, &w.RequestCount, &w.MaxRequests, &w.DecaySeconds)
	if err != nil {
		return nil, fmt.Errorf("%w: increment counter: %v", ratelimit.ErrStorageUnavailable, err)
	}
	w.WindowStart = time.Unix(0, windowStart)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ratelimit.ErrStorageUnavailable, err)
	}
	return &w, nil
}

// Current reads the stored window without touching it.
func (s *Store) Current(ctx context.Context, client string) (*ratelimit.Window, bool, error) {
	var w ratelimit.Window
	var windowStart int64

	err := s.read.QueryRowContext(ctx,
		`SELECT window_start, request_count, max_requests, decay_seconds
		 FROM rate_limit_windows WHERE client = ?`,
		client,
	).Scan(&windowStart, &w.RequestCount, &w.MaxRequests, &w.DecaySeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: select window: %v", ratelimit.ErrStorageUnavailable, err)
	}

	w.WindowStart = time.Unix(0, windowStart)
	return &w, true, nil
}

// Clear removes the client's window row.
func (s *Store) Clear(ctx context.Context, client string) error {
	_, err := s.write.ExecContext(ctx,
		`DELETE FROM rate_limit_windows WHERE client = ?`, client)
	if err != nil {
		return fmt.Errorf("%w: delete window: %v", ratelimit.ErrStorageUnavailable, err)
	}
	return nil
}
