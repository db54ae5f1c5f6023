package store

import (
	"fmt"
)

// Driver identifiers supported by the admission domain.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// New creates a token bucket store based on the provided configuration.
func New(cfg Config) (Store, error) {
	if !cfg.Bucket.valid() {
		return nil, fmt.Errorf("invalid token bucket: %+v", cfg.Bucket)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(cfg), nil
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported admission store driver: %s", driver)
	}
}
