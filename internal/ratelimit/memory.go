package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count       int
	windowStart time.Time
}

// MemoryStore is an in-process Store for single-node deployments.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

// NewMemoryStore creates an in-memory fixed-window store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// TryAcquire admits one send against the key's quota.
func (s *MemoryStore) TryAcquire(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	c, ok := s.counters[key]
	if !ok || now.Sub(c.windowStart) >= window {
		c = &counter{windowStart: now}
		s.counters[key] = c
	}

	if limit > 0 && c.count >= limit {
		return &Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: c.windowStart.Add(window).Sub(now),
		}, nil
	}

	c.count++
	return &Result{
		Allowed:   true,
		Remaining: limit - c.count,
	}, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
