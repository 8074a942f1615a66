package state

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/amin3ltd/project-chimera/internal/observability"
	"github.com/amin3ltd/project-chimera/internal/task"
	"github.com/amin3ltd/project-chimera/internal/tenancy"
)

// TaskQueue is the tenant-scoped priority work queue. Enqueue ranks by
// priority band; Dequeue pops the highest band, FIFO inside it.
type TaskQueue struct {
	qs QueueStore
	ks tenancy.Keyspace
}

func NewTaskQueue(qs QueueStore, ks tenancy.Keyspace) *TaskQueue {
	return &TaskQueue{qs: qs, ks: ks}
}

func (q *TaskQueue) Enqueue(ctx context.Context, t task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	ctx, span := observability.StartSpan(ctx, "queue.enqueue",
		attribute.String("task.id", t.ID),
		attribute.String("task.type", string(t.Type)),
		attribute.String("task.priority", string(t.Priority)),
	)
	defer span.End()

	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	if err := q.qs.Enqueue(ctx, q.ks.TaskQueue(), payload, t.Priority.Rank()); err != nil {
		return err
	}
	observability.Default.IncCounter("tasks_enqueued_total",
		map[string]string{"tenant": q.ks.Tenant(), "priority": string(t.Priority)}, 1)
	return nil
}

// Dequeue removes and returns the next task. An empty queue is not an
// error; the second return is false and callers poll with backoff.
func (q *TaskQueue) Dequeue(ctx context.Context) (task.Task, bool, error) {
	ctx, span := observability.StartSpan(ctx, "queue.dequeue")
	defer span.End()

	payload, ok, err := q.qs.DequeueMax(ctx, q.ks.TaskQueue())
	if err != nil || !ok {
		return task.Task{}, false, err
	}
	var t task.Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return task.Task{}, false, fmt.Errorf("decode queued task: %w", err)
	}
	observability.Default.IncCounter("tasks_dequeued_total",
		map[string]string{"tenant": q.ks.Tenant()}, 1)
	return t, true, nil
}

// ResultQueue is a tenant-scoped FIFO of task results: one instance for
// automatic review, one for human-in-the-loop escalation.
type ResultQueue struct {
	qs   QueueStore
	key  string
	name string
}

func NewReviewQueue(qs QueueStore, ks tenancy.Keyspace) *ResultQueue {
	return &ResultQueue{qs: qs, key: ks.ReviewQueue(), name: "review"}
}

func NewHITLQueue(qs QueueStore, ks tenancy.Keyspace) *ResultQueue {
	return &ResultQueue{qs: qs, key: ks.HITLQueue(), name: "hitl"}
}

func (q *ResultQueue) Name() string { return q.name }

func (q *ResultQueue) Push(ctx context.Context, r task.Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result for task %s: %w", r.TaskID, err)
	}
	if err := q.qs.PushList(ctx, q.key, payload); err != nil {
		return err
	}
	observability.Default.IncCounter("results_published_total",
		map[string]string{"queue": q.name}, 1)
	return nil
}

func (q *ResultQueue) Pop(ctx context.Context) (task.Result, bool, error) {
	payload, ok, err := q.qs.PopList(ctx, q.key)
	if err != nil || !ok {
		return task.Result{}, false, err
	}
	var r task.Result
	if err := json.Unmarshal(payload, &r); err != nil {
		return task.Result{}, false, fmt.Errorf("decode queued result: %w", err)
	}
	return r, true, nil
}

func (q *ResultQueue) Len(ctx context.Context) (int64, error) {
	return q.qs.ListLen(ctx, q.key)
}
