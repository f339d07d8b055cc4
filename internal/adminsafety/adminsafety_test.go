package adminsafety

import (
	"testing"
	"time"
)

func TestCheckBatchRejectsOversizedBatch(t *testing.T) {
	g := &Guard{maxBatch: 10, rateLimitPerMin: 0}
	ok, reason := g.CheckBatch(time.Now(), 11, "")
	if ok || reason == "" {
		t.Fatalf("expected oversized batch to be rejected")
	}
}

func TestCheckBatchRequiresConfirmTokenAboveThreshold(t *testing.T) {
	g := &Guard{maxBatch: 100, confirmThreshold: 5, confirmToken: "secret"}
	if ok, _ := g.CheckBatch(time.Now(), 6, ""); ok {
		t.Fatalf("expected missing confirm token to be rejected")
	}
	if ok, _ := g.CheckBatch(time.Now(), 6, "wrong"); ok {
		t.Fatalf("expected wrong confirm token to be rejected")
	}
	if ok, _ := g.CheckBatch(time.Now(), 6, "secret"); !ok {
		t.Fatalf("expected correct confirm token to be allowed")
	}
}

func TestCheckBatchRateLimit(t *testing.T) {
	g := &Guard{maxBatch: 100, rateLimitPerMin: 1}
	now := time.Now()
	if ok, _ := g.CheckBatch(now, 1, ""); !ok {
		t.Fatalf("expected first requeue to be allowed")
	}
	if ok, _ := g.CheckBatch(now, 1, ""); ok {
		t.Fatalf("expected second requeue within the window to be rejected")
	}
}
