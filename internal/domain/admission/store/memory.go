package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type bucketState struct {
	tokens int
	// anchor is the start of the current refill interval.
	anchor time.Time
	seen   time.Time
}

type memoryStore struct {
	bucket      Bucket
	items       map[string]*bucketState
	mutex       sync.Mutex
	cleanupFreq time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMemory builds an in-process token bucket store. State is lost on
// restart and is not shared between replicas.
func NewMemory(cfg Config) Store {
	cleanup := 5 * time.Minute
	if cfg.Memory != nil && cfg.Memory.GCInterval > 0 {
		cleanup = cfg.Memory.GCInterval
	}
	s := &memoryStore{
		bucket:      cfg.Bucket,
		items:       make(map[string]*bucketState),
		cleanupFreq: cleanup,
		stop:        make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *memoryStore) gcLoop() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.evictIdle(now)
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) evictIdle(now time.Time) int {
	idle := s.bucket.idleAfter()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	evicted := 0
	for key, st := range s.items {
		if now.Sub(st.seen) >= idle {
			delete(s.items, key)
			evicted++
		}
	}
	return evicted
}

func (s *memoryStore) Take(_ context.Context, key string, cost int, now time.Time) (Result, error) {
	if key == "" {
		return Result{}, fmt.Errorf("limiter key required")
	}
	if cost <= 0 {
		return Result{}, fmt.Errorf("cost must be positive, got %d", cost)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	st, ok := s.items[key]
	if !ok {
		st = &bucketState{tokens: s.bucket.Capacity, anchor: now}
		s.items[key] = st
	}
	s.refill(st, now)
	st.seen = now

	if st.tokens >= cost {
		st.tokens -= cost
		return Result{Allowed: true, Remaining: st.tokens}, nil
	}
	return Result{
		Allowed:    false,
		Remaining:  st.tokens,
		RetryAfter: st.anchor.Add(s.bucket.Interval).Sub(now),
	}, nil
}

func (s *memoryStore) refill(st *bucketState, now time.Time) {
	if !now.After(st.anchor) {
		return
	}
	n := int(now.Sub(st.anchor) / s.bucket.Interval)
	if n <= 0 {
		return
	}
	st.tokens = min(s.bucket.Capacity, st.tokens+n*s.bucket.RefillRate)
	st.anchor = st.anchor.Add(time.Duration(n) * s.bucket.Interval)
}

func (s *memoryStore) Stats(_ context.Context) (map[string]any, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return map[string]any{
		"type":             DriverMemory,
		"keys":             len(s.items),
		"capacity":         s.bucket.Capacity,
		"refill_rate":      s.bucket.RefillRate,
		"interval_seconds": int(s.bucket.Interval.Seconds()),
	}, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	return nil
}
