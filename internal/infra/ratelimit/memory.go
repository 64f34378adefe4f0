package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"attestd/internal/domain"
)

// ErrTooManyKeys is returned when the in-memory limiter is tracking its
// maximum number of distinct keys and none of them have expired.
var ErrTooManyKeys = errors.New("rate limiter tracking too many keys")

const defaultMaxTrackedKeys = 10000

// MemoryLimiterConfig tunes the in-memory limiter. The zero value uses the
// wall clock and the default key cap.
type MemoryLimiterConfig struct {
	Now     func() time.Time
	MaxKeys int
}

// window counts attempts for one key until resetAt passes.
type window struct {
	hits    int
	resetAt time.Time
}

type memoryLimiter struct {
	now     func() time.Time
	maxKeys int

	mu      sync.Mutex
	windows map[string]window
}

// NewMemoryLimiter builds a fixed-window counter held in process memory.
// Counts are not shared across replicas; multi-replica deployments should
// use NewRedisLimiter so every instance sees the same attempt totals.
func NewMemoryLimiter(cfg MemoryLimiterConfig) domain.RateLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultMaxTrackedKeys
	}
	return &memoryLimiter{
		now:     cfg.Now,
		maxKeys: cfg.MaxKeys,
		windows: make(map[string]window),
	}
}

func (m *memoryLimiter) Allow(_ context.Context, key string, limit int, windowSize time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		// A non-positive limit disables limiting for the caller.
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, tracked := m.windows[key]
	if tracked && now.After(w.resetAt) {
		tracked = false
	}
	if !tracked {
		if err := m.ensureCapacity(now); err != nil {
			return domain.RateLimitDecision{}, err
		}
		w = window{resetAt: now.Add(windowSize)}
	}

	decision := domain.RateLimitDecision{
		Limit:   limit,
		ResetAt: w.resetAt,
	}
	if w.hits >= limit {
		return decision, nil
	}

	w.hits++
	m.windows[key] = w
	decision.Allowed = true
	decision.Remaining = limit - w.hits
	return decision, nil
}

// ensureCapacity sweeps expired windows once the key cap is reached. The
// caller holds m.mu.
func (m *memoryLimiter) ensureCapacity(now time.Time) error {
	if len(m.windows) < m.maxKeys {
		return nil
	}
	for key, w := range m.windows {
		if now.After(w.resetAt) {
			delete(m.windows, key)
		}
	}
	if len(m.windows) >= m.maxKeys {
		return ErrTooManyKeys
	}
	return nil
}
