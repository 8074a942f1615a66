package state

import (
	"context"
	"sync"
	"testing"

	"github.com/amin3ltd/project-chimera/internal/task"
	"github.com/amin3ltd/project-chimera/internal/tenancy"
)

func newTestQueue() *TaskQueue {
	return NewTaskQueue(NewMemoryQueueStore(), tenancy.NewKeyspace("qtest"))
}

func TestTaskQueuePriorityThenFIFO(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	mk := func(p task.Priority, goal string) task.Task {
		return task.New(task.TypeGenerateContent, p, goal, "c1", "qtest")
	}
	for _, tt := range []task.Task{
		mk(task.PriorityLow, "low-1"),
		mk(task.PriorityHigh, "high-1"),
		mk(task.PriorityMedium, "medium-1"),
		mk(task.PriorityHigh, "high-2"),
	} {
		if err := q.Enqueue(ctx, tt); err != nil {
			t.Fatalf("enqueue %s: %v", tt.GoalDescription, err)
		}
	}

	want := []string{"high-1", "high-2", "medium-1", "low-1"}
	for i, goal := range want {
		got, ok, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("dequeue %d: queue empty early", i)
		}
		if got.GoalDescription != goal {
			t.Fatalf("dequeue %d = %q, want %q", i, got.GoalDescription, goal)
		}
	}
	if _, ok, err := q.Dequeue(ctx); err != nil || ok {
		t.Fatalf("expected empty queue, got ok=%v err=%v", ok, err)
	}
}

func TestTaskQueueEmptyIsNotAnError(t *testing.T) {
	q := newTestQueue()
	if _, ok, err := q.Dequeue(context.Background()); err != nil {
		t.Fatalf("dequeue on empty queue: %v", err)
	} else if ok {
		t.Fatalf("dequeue on empty queue returned a task")
	}
}

func TestTaskQueueConcurrentDequeueExactlyOnce(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	const total = 100
	const consumers = 8

	for i := 0; i < total; i++ {
		tt := task.New(task.TypeAnalyzeTrends, task.PriorityMedium, "g", "c1", "qtest")
		if err := q.Enqueue(ctx, tt); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int, total)
	var wg sync.WaitGroup
	for w := 0; w < consumers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, ok, err := q.Dequeue(ctx)
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				if !ok {
					return
				}
				mu.Lock()
				seen[got.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("consumers received %d distinct tasks, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("task %s delivered %d times", id, n)
		}
	}
}

func TestTaskQueueRejectsInvalidTask(t *testing.T) {
	q := newTestQueue()
	if err := q.Enqueue(context.Background(), task.Task{}); err == nil {
		t.Fatalf("expected error enqueueing invalid task")
	}
}

func TestResultQueueFIFO(t *testing.T) {
	qs := NewMemoryQueueStore()
	ks := tenancy.NewKeyspace("qtest")
	review := NewReviewQueue(qs, ks)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		r := task.Result{TaskID: id, Status: task.ResultSuccess, Confidence: 0.9}
		if err := review.Push(ctx, r); err != nil {
			t.Fatalf("push %s: %v", id, err)
		}
	}
	if n, err := review.Len(ctx); err != nil || n != 3 {
		t.Fatalf("len = %d, err %v, want 3", n, err)
	}
	for _, id := range []string{"r1", "r2", "r3"} {
		got, ok, err := review.Pop(ctx)
		if err != nil || !ok {
			t.Fatalf("pop: ok=%v err=%v", ok, err)
		}
		if got.TaskID != id {
			t.Fatalf("pop = %s, want %s", got.TaskID, id)
		}
	}
}

func TestReviewAndHITLQueuesAreSeparate(t *testing.T) {
	qs := NewMemoryQueueStore()
	ks := tenancy.NewKeyspace("qtest")
	review := NewReviewQueue(qs, ks)
	hitl := NewHITLQueue(qs, ks)
	ctx := context.Background()

	if err := review.Push(ctx, task.Result{TaskID: "only-review"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, ok, err := hitl.Pop(ctx); err != nil || ok {
		t.Fatalf("hitl queue leaked a review result: ok=%v err=%v", ok, err)
	}
}
