package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript refills and debits one bucket atomically. Buckets are a hash of
// tokens and the start of the current refill interval (ms).
//
// KEYS[1] bucket key
// ARGV    capacity, refill, interval_ms, now_ms, cost, ttl_ms
// returns {allowed, tokens, retry_after_ms}
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local cost = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

if now > ts then
  local n = math.floor((now - ts) / interval)
  if n > 0 then
    tokens = math.min(capacity, tokens + n * refill)
    ts = ts + n * interval
  end
end

local allowed = 0
local wait = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = ts + interval - now
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, tokens, wait}
`)

type redisStore struct {
	client *redis.Client
	bucket Bucket
	prefix string
}

// NewRedis constructs a redis-backed token bucket store shared by every
// replica pointing at the same server.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "narrator:ratelimit:"
	}
	return &redisStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

func (s *redisStore) key(id string) string {
	return s.prefix + id
}

func (s *redisStore) Take(ctx context.Context, key string, cost int, now time.Time) (Result, error) {
	if key == "" {
		return Result{}, fmt.Errorf("limiter key required")
	}
	if cost <= 0 {
		return Result{}, fmt.Errorf("cost must be positive, got %d", cost)
	}

	vals, err := takeScript.Run(ctx, s.client, []string{s.key(key)},
		s.bucket.Capacity,
		s.bucket.RefillRate,
		s.bucket.Interval.Milliseconds(),
		now.UnixMilli(),
		cost,
		s.bucket.idleAfter().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("token bucket script: %w", err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("token bucket script returned %d values", len(vals))
	}

	res := Result{
		Allowed:   vals[0] == 1,
		Remaining: int(vals[1]),
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration(vals[2]) * time.Millisecond
	}
	return res, nil
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	var cursor uint64
	keys := 0
	for {
		res, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys += len(res)
		if next == 0 {
			break
		}
		cursor = next
	}
	return map[string]any{
		"type":             DriverRedis,
		"keys":             keys,
		"capacity":         s.bucket.Capacity,
		"refill_rate":      s.bucket.RefillRate,
		"interval_seconds": int(s.bucket.Interval.Seconds()),
	}, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
