package obs

import (
	"strings"
	"testing"
)

func TestRenderPrometheus(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("tasks_done_total", map[string]string{"worker_id": "w1"}, 3)
	r.SetGauge("queue_depth", map[string]string{"queue": "main"}, 2)

	out := r.RenderPrometheus()
	if !strings.Contains(out, `tasks_done_total{worker_id="w1"} 3`) {
		t.Fatalf("missing counter in output: %s", out)
	}
	if !strings.Contains(out, `queue_depth{queue="main"} 2`) {
		t.Fatalf("missing gauge in output: %s", out)
	}
}

func TestIncCounterAccumulates(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("tasks_failed_total", nil, 1)
	r.IncCounter("tasks_failed_total", nil, 2)
	snap := r.Snapshot()
	if len(snap.Counters) != 1 || snap.Counters[0].Value != 3 {
		t.Fatalf("expected accumulated counter of 3, got %+v", snap.Counters)
	}
}
