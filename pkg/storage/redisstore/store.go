// Package redisstore implements the cache and rate-limit storage
// contracts on Redis. Records are stored as JSON values with a per-client
// index set; window counters live in per-client hashes and are advanced
// by a Lua script so increment-and-return is a single atomic operation
// shared across processes.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/apigate/pkg/cache"
	"github.com/Sternrassler/apigate/pkg/ratelimit"
)

const backend = "redis"

// mgetChunkSize bounds MGET argument counts during sweeps and counting.
const mgetChunkSize = 500

// incrementScript opens a fresh window when none is active, then adds n
// to the counter. Runs atomically on the Redis side.
//
// KEYS[1] window hash, ARGV: now (epoch seconds, float), n, max, decay.
var incrementScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local n = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local decay = tonumber(ARGV[4])
local start = tonumber(redis.call('HGET', KEYS[1], 'window_start'))
if (not start) or (now >= start + decay) then
  redis.call('HSET', KEYS[1], 'window_start', ARGV[1], 'request_count', 0, 'max_requests', max, 'decay_seconds', decay)
  start = now
end
local count = redis.call('HINCRBY', KEYS[1], 'request_count', n)
return {redis.call('HGET', KEYS[1], 'window_start'), count}
`)

// Store implements cache.Store and ratelimit.Store on a Redis client.
type Store struct {
	redis *redis.Client
}

// New creates a Redis-backed store.
func New(redisClient *redis.Client) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Store{redis: redisClient}
}

func recordKey(client, key string) string {
	return fmt.Sprintf("apigate:cache:%s:%s", client, key)
}

func indexKey(client string) string {
	return fmt.Sprintf("apigate:cache:%s:index", client)
}

func windowKey(client string) string {
	return fmt.Sprintf("apigate:ratelimit:%s", client)
}

// Put upserts a record as a single SET plus index membership.
// The SET is atomic, so readers never observe a partial record.
func (s *Store) Put(ctx context.Context, client string, rec *cache.Record, ttl *time.Duration) error {
	if rec == nil {
		return fmt.Errorf("cache record cannot be nil")
	}

	now := time.Now()
	stored := *rec
	stored.Client = client
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.ExpiresAt = nil
	if ttl != nil {
		exp := now.Add(*ttl)
		stored.ExpiresAt = &exp
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		cache.Errors.WithLabelValues(backend, "put").Inc()
		return fmt.Errorf("marshal cache record: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, recordKey(client, rec.Key), data, 0)
	pipe.SAdd(ctx, indexKey(client), rec.Key)
	if _, err := pipe.Exec(ctx); err != nil {
		cache.Errors.WithLabelValues(backend, "put").Inc()
		return fmt.Errorf("%w: redis set: %v", cache.ErrStorageUnavailable, err)
	}

	cache.StoredBytes.WithLabelValues(backend).Add(float64(len(data)))
	return nil
}

// Get returns the record for a fingerprint, treating expired records as
// misses without deleting them.
func (s *Store) Get(ctx context.Context, client, key string) (*cache.Record, error) {
	data, err := s.redis.Get(ctx, recordKey(client, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			cache.Misses.WithLabelValues(backend).Inc()
			return nil, cache.ErrCacheMiss
		}
		cache.Errors.WithLabelValues(backend, "get").Inc()
		return nil, fmt.Errorf("%w: redis get: %v", cache.ErrStorageUnavailable, err)
	}

	var rec cache.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		cache.Errors.WithLabelValues(backend, "get").Inc()
		return nil, fmt.Errorf("%w: %v", cache.ErrInvalidRecord, err)
	}

	if rec.Expired(time.Now()) {
		cache.Misses.WithLabelValues(backend).Inc()
		return nil, cache.ErrCacheMiss
	}

	cache.Hits.WithLabelValues(backend).Inc()
	return &rec, nil
}

// DeleteExpired sweeps the client's index and removes records whose
// expiry has passed.
func (s *Store) DeleteExpired(ctx context.Context, client string) (int64, error) {
	keys, err := s.redis.SMembers(ctx, indexKey(client)).Result()
	if err != nil {
		cache.Errors.WithLabelValues(backend, "sweep").Inc()
		return 0, fmt.Errorf("%w: redis smembers: %v", cache.ErrStorageUnavailable, err)
	}

	now := time.Now()
	var removed int64

	for start := 0; start < len(keys); start += mgetChunkSize {
		end := min(start+mgetChunkSize, len(keys))
		chunk := keys[start:end]

		expired, err := s.expiredInChunk(ctx, client, chunk, now)
		if err != nil {
			return removed, err
		}
		if len(expired) == 0 {
			continue
		}

		recordKeys := make([]string, len(expired))
		members := make([]interface{}, len(expired))
		for i, k := range expired {
			recordKeys[i] = recordKey(client, k)
			members[i] = k
		}

		pipe := s.redis.TxPipeline()
		pipe.Del(ctx, recordKeys...)
		pipe.SRem(ctx, indexKey(client), members...)
		if _, err := pipe.Exec(ctx); err != nil {
			cache.Errors.WithLabelValues(backend, "sweep").Inc()
			return removed, fmt.Errorf("%w: redis del: %v", cache.ErrStorageUnavailable, err)
		}
		removed += int64(len(expired))
	}

	if removed > 0 {
		cache.Evictions.WithLabelValues(backend).Add(float64(removed))
	}
	return removed, nil
}

// CountTotal counts all physically present records via the index.
func (s *Store) CountTotal(ctx context.Context, client string) (int64, error) {
	total, err := s.redis.SCard(ctx, indexKey(client)).Result()
	if err != nil {
		cache.Errors.WithLabelValues(backend, "count").Inc()
		return 0, fmt.Errorf("%w: redis scard: %v", cache.ErrStorageUnavailable, err)
	}
	return total, nil
}

// CountActive counts records that have not lazily expired.
func (s *Store) CountActive(ctx context.Context, client string) (int64, error) {
	active, _, err := s.countByExpiry(ctx, client)
	return active, err
}

// CountExpired counts lazily expired but not yet swept records.
func (s *Store) CountExpired(ctx context.Context, client string) (int64, error) {
	_, expired, err := s.countByExpiry(ctx, client)
	return expired, err
}

func (s *Store) countByExpiry(ctx context.Context, client string) (active, expired int64, err error) {
	keys, err := s.redis.SMembers(ctx, indexKey(client)).Result()
	if err != nil {
		cache.Errors.WithLabelValues(backend, "count").Inc()
		return 0, 0, fmt.Errorf("%w: redis smembers: %v", cache.ErrStorageUnavailable, err)
	}

	now := time.Now()
	for start := 0; start < len(keys); start += mgetChunkSize {
		end := min(start+mgetChunkSize, len(keys))
		chunkExpired, err := s.expiredInChunk(ctx, client, keys[start:end], now)
		if err != nil {
			return 0, 0, err
		}
		expired += int64(len(chunkExpired))
		active += int64(end - start - len(chunkExpired))
	}
	return active, expired, nil
}

// expiredInChunk fetches a chunk of records and returns the fingerprints
// whose expiry has passed. Dangling index entries count as expired so
// sweeps repair the index.
func (s *Store) expiredInChunk(ctx context.Context, client string, chunk []string, now time.Time) ([]string, error) {
	recordKeys := make([]string, len(chunk))
	for i, k := range chunk {
		recordKeys[i] = recordKey(client, k)
	}

	values, err := s.redis.MGet(ctx, recordKeys...).Result()
	if err != nil {
		cache.Errors.WithLabelValues(backend, "count").Inc()
		return nil, fmt.Errorf("%w: redis mget: %v", cache.ErrStorageUnavailable, err)
	}

	var expired []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, chunk[i])
			continue
		}
		var rec cache.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if rec.Expired(now) {
			expired = append(expired, chunk[i])
		}
	}
	return expired, nil
}

// Increment advances the client's window counter via the Lua script.
func (s *Store) Increment(ctx context.Context, client string, n int64, maxRequests, decaySeconds int) (*ratelimit.Window, error) {
	now := float64(time.Now().UnixNano()) / float64(time.Second)

	reply, err := incrementScript.Run(ctx, s.redis,
		[]string{windowKey(client)},
		strconv.FormatFloat(now, 'f', 6, 64), n, maxRequests, decaySeconds,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis eval: %v", ratelimit.ErrStorageUnavailable, err)
	}

	parts, ok := reply.([]interface{})
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("unexpected increment reply: %v", reply)
	}

	startStr, _ := parts[0].(string)
	start, err := strconv.ParseFloat(startStr, 64)
	if err != nil {
		return nil, fmt.Errorf("parse window start %q: %w", startStr, err)
	}
	count, ok := parts[1].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected counter type in reply: %v", parts[1])
	}

	return &ratelimit.Window{
		WindowStart:  epochToTime(start),
		RequestCount: count,
		MaxRequests:  maxRequests,
		DecaySeconds: decaySeconds,
	}, nil
}

// Current reads the stored window without touching it.
func (s *Store) Current(ctx context.Context, client string) (*ratelimit.Window, bool, error) {
	fields, err := s.redis.HGetAll(ctx, windowKey(client)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: redis hgetall: %v", ratelimit.ErrStorageUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	start, err := strconv.ParseFloat(fields["window_start"], 64)
	if err != nil {
		return nil, false, fmt.Errorf("parse window start %q: %w", fields["window_start"], err)
	}
	count, err := strconv.ParseInt(fields["request_count"], 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("parse request count %q: %w", fields["request_count"], err)
	}
	maxRequests, _ := strconv.Atoi(fields["max_requests"])
	decaySeconds, _ := strconv.Atoi(fields["decay_seconds"])

	return &ratelimit.Window{
		WindowStart:  epochToTime(start),
		RequestCount: count,
		MaxRequests:  maxRequests,
		DecaySeconds: decaySeconds,
	}, true, nil
}

// Clear removes the client's window.
func (s *Store) Clear(ctx context.Context, client string) error {
	if err := s.redis.Del(ctx, windowKey(client)).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %v", ratelimit.ErrStorageUnavailable, err)
	}
	return nil
}

func epochToTime(seconds float64) time.Time {
	return time.Unix(0, int64(seconds*float64(time.Second)))
}
