// Package ratelimit implements Ingress's submit-path rate limiting: a
// sliding one-minute window bounding both a per-client and a global rate
// of Upload/BulkUpload calls. Grounded on internal/api/rate_limit.go's
// submitLimiter, narrowed from per-tenant to per-client (the caller's auth
// principal id: a hash of its bearer token, or "anonymous" when auth is
// disabled) since Altify has no multi-tenant concept.
package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limiter is what ingress.Server depends on, so a single-process in-memory
// SubmitLimiter (tests, single-replica deployments) and a Redis-backed one
// (multi-replica Ingress) are interchangeable.
type Limiter interface {
	Allow(client string, now time.Time) bool
}

type SubmitLimiter struct {
	mu            sync.Mutex
	perClientMax  int
	globalMax     int
	window        time.Duration
	clients       map[string][]int64
	global        []int64
}

func NewSubmitLimiterFromEnv() *SubmitLimiter {
	perClient := getenvInt("ALTIFY_SUBMIT_RATE_LIMIT_PER_MIN", 1000)
	global := getenvInt("ALTIFY_SUBMIT_GLOBAL_RATE_LIMIT_PER_MIN", 5000)
	if perClient < 0 {
		perClient = 0
	}
	if global < 0 {
		global = 0
	}
	return &SubmitLimiter{
		perClientMax: perClient,
		globalMax:    global,
		window:       time.Minute,
		clients:      map[string][]int64{},
		global:       make([]int64, 0, 1024),
	}
}

// Allow reports whether a submit from client may proceed, recording it if
// so. An empty client key is bucketed under "default".
func (l *SubmitLimiter) Allow(client string, now time.Time) bool {
	if l == nil || (l.perClientMax == 0 && l.globalMax == 0) {
		return true
	}
	ts := now.UTC().Unix()
	cutoff := ts - int64(l.window.Seconds())
	if client == "" {
		client = "default"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = trimCutoff(l.global, cutoff)
	if l.globalMax > 0 && len(l.global) >= l.globalMax {
		return false
	}

	history := trimCutoff(l.clients[client], cutoff)
	if l.perClientMax > 0 && len(history) >= l.perClientMax {
		l.clients[client] = history
		return false
	}

	history = append(history, ts)
	l.clients[client] = history
	l.global = append(l.global, ts)
	return true
}

func trimCutoff(in []int64, cutoff int64) []int64 {
	if len(in) == 0 {
		return in
	}
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}

func getenvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
