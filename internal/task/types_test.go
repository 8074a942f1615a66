package task

import "testing"

func TestPriorityRank(t *testing.T) {
	cases := []struct {
		p    Priority
		want int
	}{
		{PriorityHigh, 3},
		{PriorityMedium, 2},
		{PriorityLow, 1},
		{Priority("bogus"), 1},
	}
	for _, c := range cases {
		if got := c.p.Rank(); got != c.want {
			t.Fatalf("rank(%q) = %d, want %d", c.p, got, c.want)
		}
	}
}

func TestNewTaskAssignsID(t *testing.T) {
	a := New(TypeAnalyzeTrends, PriorityHigh, "g", "c1", "default")
	b := New(TypeAnalyzeTrends, PriorityHigh, "g", "c1", "default")
	if a.ID == "" || b.ID == "" {
		t.Fatalf("task created without id")
	}
	if a.ID == b.ID {
		t.Fatalf("two tasks share id %s", a.ID)
	}
	if a.Status != StatusPending {
		t.Fatalf("new task status = %q, want %q", a.Status, StatusPending)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsIncompleteTask(t *testing.T) {
	if err := (Task{}).Validate(); err == nil {
		t.Fatalf("expected error for empty task")
	}
	if err := (Task{ID: "x", Type: TypeReplyComment}).Validate(); err == nil {
		t.Fatalf("expected error for task without campaign")
	}
}

func TestClampConfidence(t *testing.T) {
	if v := ClampConfidence(-0.5); v != 0 {
		t.Fatalf("clamp(-0.5) = %v", v)
	}
	if v := ClampConfidence(1.7); v != 1 {
		t.Fatalf("clamp(1.7) = %v", v)
	}
	if v := ClampConfidence(0.42); v != 0.42 {
		t.Fatalf("clamp(0.42) = %v", v)
	}
}
