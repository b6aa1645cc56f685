// Package ratelimit caps how many pipeline requests one client can make, protecting the
// public address, geography and simulation APIs every request fans out to.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window frees up, at least 1.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Seconds() + 0.999)
	if secs < 1 {
		return 1
	}
	return secs
}

// Store admits requests against a per-key limit over a window.
type Store interface {
	AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (Result, error)
}

// InMemoryStore is a sliding-window limiter local to the process. Windows of clients that
// stop calling are dropped by a sweep that runs at most once per window.
type InMemoryStore struct {
	mu        sync.Mutex
	windows   map[string][]time.Time
	now       func() time.Time
	lastSweep time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return NewInMemoryStoreWithClock(time.Now)
}

func NewInMemoryStoreWithClock(now func() time.Time) *InMemoryStore {
	return &InMemoryStore{windows: make(map[string][]time.Time), now: now}
}

func (s *InMemoryStore) AllowN(_ context.Context, key string, cost, limit int, window time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= window {
		s.sweep(now.Add(-window))
		s.lastSweep = now
	}
	stamps := trim(s.windows[key], now.Add(-window))

	if len(stamps)+cost > limit {
		resetAt := now.Add(window)
		if len(stamps) > 0 {
			resetAt = stamps[0].Add(window)
		}
		s.store(key, stamps)
		return Result{Allowed: false, Limit: limit, Remaining: max(limit-len(stamps), 0), ResetAt: resetAt}, nil
	}

	for range cost {
		stamps = append(stamps, now)
	}
	s.store(key, stamps)
	return Result{Allowed: true, Limit: limit, Remaining: limit - len(stamps), ResetAt: stamps[0].Add(window)}, nil
}

func (s *InMemoryStore) store(key string, stamps []time.Time) {
	if len(stamps) == 0 {
		delete(s.windows, key)
		return
	}
	s.windows[key] = stamps
}

func (s *InMemoryStore) sweep(cutoff time.Time) int {
	removed := 0
	for key, stamps := range s.windows {
		if len(trim(stamps, cutoff)) == 0 {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of clients with a tracked window.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// trim drops timestamps at or before cutoff; stamps are in ascending order.
func trim(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}

// RedisStore is a fixed-window limiter shared by every replica.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, prefix: "demarches:ratelimit:", now: time.Now}
}

func (s *RedisStore) AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (Result, error) {
	now := s.now()
	start := now.Truncate(window)
	resetAt := start.Add(window)
	k := s.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.IncrBy(ctx, k, int64(cost))
		p.ExpireAt(ctx, k, resetAt.Add(time.Second))
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	used := int(incr.Val())
	if used > limit {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Result{Allowed: true, Limit: limit, Remaining: limit - used, ResetAt: resetAt}, nil
}
