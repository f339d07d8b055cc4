package autoscale

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/altify/altify/internal/broker"
)

// depthSequenceBroker is a minimal broker.Broker fake that returns a
// scripted sequence of (ready, unacked) readings, one per QueueDepth call,
// holding the last value once the script is exhausted.
type depthSequenceBroker struct {
	broker.Broker
	readings []struct{ ready, unacked int }
	i        int
}

func (d *depthSequenceBroker) QueueDepth(_ context.Context, _ string) (int, int, error) {
	r := d.readings[d.i]
	if d.i < len(d.readings)-1 {
		d.i++
	}
	return r.ready, r.unacked, nil
}

func seq(pairs ...[2]int) *depthSequenceBroker {
	d := &depthSequenceBroker{}
	for _, p := range pairs {
		d.readings = append(d.readings, struct{ ready, unacked int }{p[0], p[1]})
	}
	return d
}

func TestDesiredReplicasClampsToRange(t *testing.T) {
	cases := []struct {
		ready, target, min, max, want int
	}{
		{0, 4, 1, 8, 1},  // below min floors to min
		{40, 4, 1, 8, 8}, // ceil(40/4)=10, clamped to max
		{12, 4, 1, 8, 3}, // exact ceil, no clamp
		{9, 4, 1, 8, 3},  // ceil(9/4)=3
	}
	for _, c := range cases {
		if got := desiredReplicas(c.ready, c.target, c.min, c.max); got != c.want {
			t.Fatalf("desiredReplicas(%d,%d,%d,%d) = %d, want %d", c.ready, c.target, c.min, c.max, got, c.want)
		}
	}
}

func TestTickScalesUpImmediately(t *testing.T) {
	bk := seq([2]int{40, 0})
	var applied []string
	a := New(bk, 1, 8, 4, 120*time.Second, "echo scale {n}", zerolog.Nop())
	a.runCmd = func(_ context.Context, name string, args ...string) ([]byte, error) {
		applied = append(applied, name)
		return nil, nil
	}

	a.tick(context.Background())

	if a.Current() != 8 {
		t.Fatalf("expected immediate scale-up to max=8 on ready=40, got %d", a.Current())
	}
	if len(applied) != 1 {
		t.Fatalf("expected exactly one orchestrator invocation, got %d", len(applied))
	}
}

func TestTickNeverExceedsMaxWorkers(t *testing.T) {
	bk := seq([2]int{1000, 0})
	a := New(bk, 1, 8, 4, 120*time.Second, "echo scale {n}", zerolog.Nop())
	a.runCmd = func(_ context.Context, name string, args ...string) ([]byte, error) { return nil, nil }

	a.tick(context.Background())

	if a.Current() > 8 {
		t.Fatalf("autoscaler exceeded max_workers: current=%d", a.Current())
	}
}

func TestTickScaleDownWaitsForFullCooldown(t *testing.T) {
	bk := seq([2]int{40, 0}, [2]int{0, 0}, [2]int{0, 0}, [2]int{0, 0})
	a := New(bk, 1, 8, 4, 120*time.Second, "echo scale {n}", zerolog.Nop())
	a.runCmd = func(_ context.Context, name string, args ...string) ([]byte, error) { return nil, nil }

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.nowFn = func() time.Time { return clock }

	a.tick(context.Background()) // ready=40 -> scale up to 8
	if a.Current() != 8 {
		t.Fatalf("expected scale-up to 8, got %d", a.Current())
	}

	a.tick(context.Background()) // ready=0 -> desired=1, below-threshold timer starts
	if a.Current() != 8 {
		t.Fatalf("expected no scale-down before cooldown elapses, got %d", a.Current())
	}

	clock = clock.Add(60 * time.Second)
	a.tick(context.Background()) // still within cooldown window
	if a.Current() != 8 {
		t.Fatalf("expected no scale-down mid-cooldown, got %d", a.Current())
	}

	clock = clock.Add(61 * time.Second) // total elapsed since threshold breach: 121s > 120s cooldown
	a.tick(context.Background())
	if a.Current() != 1 {
		t.Fatalf("expected scale-down to min=1 once cooldown elapses, got %d", a.Current())
	}
}

func TestTickReportsOnlyWhenQueueDepthUnavailable(t *testing.T) {
	a := New(&unavailableBroker{}, 1, 8, 4, 120*time.Second, "echo scale {n}", zerolog.Nop())
	called := false
	a.runCmd = func(_ context.Context, name string, args ...string) ([]byte, error) {
		called = true
		return nil, nil
	}

	a.tick(context.Background())

	if called {
		t.Fatalf("expected no orchestrator invocation when queue depth is unavailable")
	}
	if a.Current() != 1 {
		t.Fatalf("expected current replica count to stay at the initial min=1, got %d", a.Current())
	}
}

type unavailableBroker struct {
	broker.Broker
}

func (unavailableBroker) QueueDepth(_ context.Context, _ string) (int, int, error) {
	return 0, 0, errUnavailable
}

var errUnavailable = &depthUnavailableError{}

type depthUnavailableError struct{}

func (*depthUnavailableError) Error() string { return "queue depth backend unreachable" }

func TestApplyFailureLeavesCurrentUnchanged(t *testing.T) {
	bk := seq([2]int{40, 0})
	a := New(bk, 1, 8, 4, 120*time.Second, "echo scale {n}", zerolog.Nop())
	a.runCmd = func(_ context.Context, name string, args ...string) ([]byte, error) {
		return []byte("connection refused"), &depthUnavailableError{}
	}

	a.tick(context.Background())

	if a.Current() != 1 {
		t.Fatalf("expected current to remain at initial min=1 when orchestrator command fails, got %d", a.Current())
	}
}
