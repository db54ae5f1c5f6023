package store

import (
	"context"
	"time"
)

// Store keeps token bucket state per limiter key. Take must be atomic per
// key across concurrent callers.
type Store interface {
	Take(ctx context.Context, key string, cost int, now time.Time) (Result, error)
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Result is the outcome of one Take.
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until enough tokens are back. Zero when allowed.
	RetryAfter time.Duration
}

// Bucket describes the limiter shape shared by every key: Capacity tokens,
// topped up by RefillRate tokens at the end of every Interval.
type Bucket struct {
	Capacity   int
	RefillRate int
	Interval   time.Duration
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver string
	Bucket Bucket
	Redis  *RedisConfig
	Memory *MemoryConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	GCInterval time.Duration
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// idleAfter is how long a key must be untouched before its bucket is
// certainly full again, at which point its state can be forgotten.
func (b Bucket) idleAfter() time.Duration {
	intervals := (b.Capacity + b.RefillRate - 1) / b.RefillRate
	return time.Duration(intervals+1) * b.Interval
}

func (b Bucket) valid() bool {
	return b.Capacity > 0 && b.RefillRate > 0 && b.Interval > 0
}
