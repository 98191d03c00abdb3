package middleware

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/autoanosis/ai-relay-go/internal/config"
	"github.com/sirupsen/logrus"
)

const limiterShards = 32

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Admit(key string, now time.Time) bool
	Reset(key string)
}

// SlidingWindowLimiter admits at most max requests per key in any trailing
// window, keeping a log of admitted timestamps per key.
type SlidingWindowLimiter struct {
	window time.Duration
	max    int
	shards [limiterShards]limiterShard
	logger *logrus.Logger
}

type limiterShard struct {
	mu   sync.Mutex
	keys map[string][]time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.RateLimitConfig, logger *logrus.Logger) *SlidingWindowLimiter {
	return NewSlidingWindowLimiter(cfg.Window, cfg.MaxRequests, logger)
}

// NewSlidingWindowLimiter creates a limiter for max requests per window.
func NewSlidingWindowLimiter(window time.Duration, max int, logger *logrus.Logger) *SlidingWindowLimiter {
	rl := &SlidingWindowLimiter{
		window: window,
		max:    max,
		logger: logger,
	}
	for i := range rl.shards {
		rl.shards[i].keys = make(map[string][]time.Time)
	}
	return rl
}

func (r *SlidingWindowLimiter) shard(key string) *limiterShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &r.shards[h.Sum32()%limiterShards]
}

// Admit prunes timestamps older than now-window for key, then records now and
// returns true if fewer than max remain.
func (r *SlidingWindowLimiter) Admit(key string, now time.Time) bool {
	s := r.shard(key)
	cutoff := now.Add(-r.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	stamps := prune(s.keys[key], cutoff)
	if len(stamps) >= r.max {
		s.keys[key] = stamps
		r.logger.WithFields(logrus.Fields{
			"key":    key,
			"window": r.window,
			"max":    r.max,
		}).Warn("Rate limit exceeded")
		return false
	}
	s.keys[key] = append(stamps, now)
	return true
}

// Reset forgets every timestamp recorded for key.
func (r *SlidingWindowLimiter) Reset(key string) {
	s := r.shard(key)
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

// Evict drops keys with no timestamp inside the window. Such keys behave
// exactly like unseen keys, so no admission decision changes.
func (r *SlidingWindowLimiter) Evict(now time.Time) int {
	cutoff := now.Add(-r.window)
	removed := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for key, stamps := range s.keys {
			if len(prune(stamps, cutoff)) == 0 {
				delete(s.keys, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (r *SlidingWindowLimiter) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.keys)
		s.mu.Unlock()
	}
	return n
}

// StartCleanup evicts idle keys every interval until ctx is done.
func (r *SlidingWindowLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := r.Evict(now); removed > 0 {
				r.logger.WithField("removed", removed).Debug("Evicted idle rate limit keys")
			}
		}
	}
}

// prune drops timestamps before cutoff, preserving order.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0:0]
	for _, ts := range stamps {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
