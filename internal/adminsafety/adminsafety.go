// Package adminsafety guards Ingress's operator-triggered dead-letter
// bulk-requeue endpoint: a batch-size cap, a sliding rate limit, and, when a
// confirmation token is configured, a token requirement for batches at or
// above a threshold, so a fat-fingered
// "requeue everything" call can't stampede the worker pool. Grounded on
// internal/api/admin_safety.go's adminSafety.
package adminsafety

import (
	"os"
	"strconv"
	"sync"
	"time"
)

type Guard struct {
	maxBatch          int
	rateLimitPerMin   int
	confirmThreshold  int
	confirmToken      string
	mu                sync.Mutex
	recentRequeueUnix []int64
}

func NewFromEnv() *Guard {
	return &Guard{
		maxBatch:         getenvInt("ALTIFY_ADMIN_REQUEUE_MAX_BATCH", 100),
		rateLimitPerMin:  getenvInt("ALTIFY_ADMIN_REQUEUE_RATE_LIMIT_PER_MIN", 30),
		confirmThreshold: getenvInt("ALTIFY_ADMIN_REQUEUE_CONFIRM_THRESHOLD", 20),
		confirmToken:     os.Getenv("ALTIFY_ADMIN_REQUEUE_CONFIRM_TOKEN"),
	}
}

// CheckBatch validates a requeue-N-dead-letters request before any BK calls
// are made, returning a reason string (empty if allowed).
func (g *Guard) CheckBatch(now time.Time, count int, confirmToken string) (allowed bool, reason string) {
	if count > g.maxBatch {
		return false, "batch exceeds max_batch"
	}
	if count >= g.confirmThreshold && g.confirmToken != "" && confirmToken != g.confirmToken {
		return false, "confirmation token required for batch of this size"
	}
	if !g.allowRate(now) {
		return false, "rate limit exceeded"
	}
	return true, ""
}

func (g *Guard) allowRate(now time.Time) bool {
	if g.rateLimitPerMin <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := now.Add(-time.Minute).Unix()
	kept := g.recentRequeueUnix[:0]
	for _, ts := range g.recentRequeueUnix {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	g.recentRequeueUnix = kept
	if len(g.recentRequeueUnix) >= g.rateLimitPerMin {
		return false
	}
	g.recentRequeueUnix = append(g.recentRequeueUnix, now.Unix())
	return true
}

func getenvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
