package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy is a token bucket: Burst actions at once, refilled to Burst per Per.
type Policy struct {
	Burst int
	Per   time.Duration
}

func (p Policy) limit() rate.Limit {
	if p.Burst <= 0 || p.Per <= 0 {
		return rate.Inf
	}
	return rate.Every(p.Per / time.Duration(p.Burst))
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one bucket per user and action.
type RateLimiter struct {
	policies      map[string]Policy
	defaultPolicy Policy
	now           func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewRateLimiter(policies map[string]Policy, defaultPolicy Policy) *RateLimiter {
	return &RateLimiter{
		policies:      policies,
		defaultPolicy: defaultPolicy,
		now:           time.Now,
		buckets:       make(map[string]*bucket),
	}
}

func (rl *RateLimiter) policy(action string) Policy {
	if p, ok := rl.policies[action]; ok {
		return p
	}
	return rl.defaultPolicy
}

// Allow consumes a token for userID's action. When none is left it reports
// how long until one is.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	key := userID + ":" + action
	now := rl.now()

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		p := rl.policy(action)
		b = &bucket{limiter: rate.NewLimiter(p.limit(), p.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	wait := r.DelayFrom(now)
	if wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// Tokens reports the tokens left for userID's action.
func (rl *RateLimiter) Tokens(userID, action string) float64 {
	rl.mu.Lock()
	b, ok := rl.buckets[userID+":"+action]
	rl.mu.Unlock()
	if !ok {
		return float64(rl.policy(action).Burst)
	}
	return b.limiter.TokensAt(rl.now())
}

// Cleanup drops buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine runs Cleanup every interval until ctx ends.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup(maxIdle)
			case <-ctx.Done():
				return
			}
		}
	}()
}
