package observability

import (
	"strings"
	"testing"
)

func TestRenderPrometheus(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("tasks_enqueued_total", map[string]string{"queue_backend": "memory", "priority": "high"}, 3)
	r.SetGauge("review_queue_depth", map[string]string{"queue_backend": "memory"}, 2)

	out := r.RenderPrometheus()
	if !strings.Contains(out, `tasks_enqueued_total{priority="high",queue_backend="memory"} 3`) {
		t.Fatalf("missing enqueue metric in output: %s", out)
	}
	if !strings.Contains(out, `review_queue_depth{queue_backend="memory"} 2`) {
		t.Fatalf("missing queue depth gauge in output: %s", out)
	}
}

func TestCounterValueAndReset(t *testing.T) {
	r := NewRegistry()
	labels := map[string]string{"decision": "approve"}
	r.IncCounter("judge_decisions_total", labels, 1)
	r.IncCounter("judge_decisions_total", labels, 1)
	if v := r.CounterValue("judge_decisions_total", labels); v != 2 {
		t.Fatalf("counter = %v, want 2", v)
	}
	r.Reset()
	if v := r.CounterValue("judge_decisions_total", labels); v != 0 {
		t.Fatalf("counter after reset = %v, want 0", v)
	}
}
