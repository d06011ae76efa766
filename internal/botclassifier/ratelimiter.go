// Package botclassifier implements C3: per-request bot/human/malicious
// classification from TLS fingerprint, user agent, client IP, and the
// current request rate. The per-IP sliding window here is the local,
// always-authoritative rate signal (spec §9 open question); cross-node
// rate signals arrive only via internal/crdtcounter and feed step 6 of
// the classification algorithm, never the hard per-IP gate.
package botclassifier

import (
	"sync"
	"time"
)

// RateLimiter tracks request counts per IP within a sliding window, using
// the read-first / double-checked-lock pattern from
// internal/middleware/rate_limiter.go to keep the common (existing-window)
// path cheap under read lock.
type RateLimiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	maxReq  int
	period  time.Duration
}

type window struct {
	count int
	start time.Time
}

// NewRateLimiter builds a limiter allowing maxReq requests per period per key.
func NewRateLimiter(maxReq int, period time.Duration) *RateLimiter {
	if maxReq <= 0 {
		maxReq = 300
	}
	if period <= 0 {
		period = time.Minute
	}
	rl := &RateLimiter{
		windows: make(map[string]*window),
		maxReq:  maxReq,
		period:  period,
	}
	go rl.cleanupLoop()
	return rl
}

// Increment records one request for key and returns the current rate in
// requests/second and whether this request is within the allowed budget.
func (rl *RateLimiter) Increment(key string) (ratePerSec float64, withinBudget bool) {
	now := time.Now()

	rl.mu.RLock()
	w, exists := rl.windows[key]
	if exists && now.Sub(w.start) <= rl.period {
		w.count++
		count := w.count
		rl.mu.RUnlock()
		rate := float64(count) / rl.period.Seconds()
		return rate, count <= rl.maxReq
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, exists = rl.windows[key]
	if exists && now.Sub(w.start) <= rl.period {
		w.count++
		rate := float64(w.count) / rl.period.Seconds()
		return rate, w.count <= rl.maxReq
	}

	rl.windows[key] = &window{count: 1, start: now}
	return 1.0 / rl.period.Seconds(), true
}

// Rate returns the current observed rate for key without incrementing it.
func (rl *RateLimiter) Rate(key string) float64 {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	w, ok := rl.windows[key]
	if !ok || time.Since(w.start) > rl.period {
		return 0
	}
	return float64(w.count) / rl.period.Seconds()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.period * 2)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, w := range rl.windows {
			if now.Sub(w.start) > rl.period*2 {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Stats reports limiter-wide counters for the operator console.
func (rl *RateLimiter) Stats() map[string]int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return map[string]int{
		"active_windows": len(rl.windows),
		"max_requests":   rl.maxReq,
	}
}
