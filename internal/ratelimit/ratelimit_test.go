package ratelimit

import (
	"testing"
	"time"
)

func TestSubmitLimiterPerClientWindow(t *testing.T) {
	l := &SubmitLimiter{perClientMax: 2, globalMax: 0, window: time.Minute, clients: map[string][]int64{}}
	now := time.Unix(1_700_000_000, 0)
	if !l.Allow("c1", now) {
		t.Fatalf("expected first call to be allowed")
	}
	if !l.Allow("c1", now) {
		t.Fatalf("expected second call to be allowed")
	}
	if l.Allow("c1", now) {
		t.Fatalf("expected third call within window to be rejected")
	}
	if !l.Allow("c2", now) {
		t.Fatalf("expected a different client to have its own budget")
	}
}

func TestSubmitLimiterWindowExpires(t *testing.T) {
	l := &SubmitLimiter{perClientMax: 1, window: time.Minute, clients: map[string][]int64{}}
	now := time.Unix(1_700_000_000, 0)
	if !l.Allow("c1", now) {
		t.Fatalf("expected first call to be allowed")
	}
	if l.Allow("c1", now) {
		t.Fatalf("expected second call within window to be rejected")
	}
	if !l.Allow("c1", now.Add(90*time.Second)) {
		t.Fatalf("expected call after window to be allowed again")
	}
}

func TestSubmitLimiterZeroLimitsAllowEverything(t *testing.T) {
	l := NewSubmitLimiterFromEnv()
	l.perClientMax = 0
	l.globalMax = 0
	now := time.Now()
	for i := 0; i < 10; i++ {
		if !l.Allow("c1", now) {
			t.Fatalf("expected unlimited limiter to allow call %d", i)
		}
	}
}
