// Package worker drains the task queue, executes capabilities, and
// publishes results onto the review pipeline.
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/amin3ltd/project-chimera/internal/observability"
	"github.com/amin3ltd/project-chimera/internal/skill"
	"github.com/amin3ltd/project-chimera/internal/state"
	"github.com/amin3ltd/project-chimera/internal/task"
)

const (
	defaultPollInterval  = 1 * time.Second
	defaultHITLThreshold = 0.70
)

type Options struct {
	PollInterval  time.Duration
	HITLThreshold float64
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.HITLThreshold <= 0 {
		o.HITLThreshold = defaultHITLThreshold
	}
	return o
}

// Worker executes one task at a time. Multiple workers may share the
// same queue; the queue's pop is atomic so each task runs exactly once.
type Worker struct {
	id       string
	queue    *state.TaskQueue
	review   *state.ResultQueue
	hitl     *state.ResultQueue
	registry *skill.Registry
	opts     Options
}

func New(id string, queue *state.TaskQueue, review, hitl *state.ResultQueue, registry *skill.Registry, opts Options) *Worker {
	return &Worker{
		id:       id,
		queue:    queue,
		review:   review,
		hitl:     hitl,
		registry: registry,
		opts:     opts.withDefaults(),
	}
}

// Execute runs the capability for one task and always returns a
// result. Capability failures and unknown task types become
// error-status results with zero confidence; they never escape as
// errors or panics.
func (w *Worker) Execute(ctx context.Context, t task.Task) task.Result {
	ctx, span := observability.StartSpan(ctx, "worker.execute",
		attribute.String("task.id", t.ID),
		attribute.String("task.type", string(t.Type)),
	)
	defer span.End()

	t.AssignedWorkerID = w.id
	t.Status = task.StatusInProgress

	res := task.Result{TaskID: t.ID, ExecutedAt: time.Now().UTC(), Task: t}

	c, ok := w.registry.Resolve(t.Type)
	if !ok {
		res.Status = task.ResultError
		res.ErrorMessage = fmt.Sprintf("no capability registered for task type %q", t.Type)
		observability.Default.IncCounter("worker_unknown_type_total", map[string]string{"type": string(t.Type)}, 1)
		return res
	}

	out, err := w.run(ctx, c, t)
	if err != nil {
		res.Status = task.ResultError
		res.ErrorMessage = err.Error()
		observability.Default.IncCounter("worker_task_errors_total", map[string]string{"type": string(t.Type)}, 1)
		return res
	}

	res.Status = task.ResultSuccess
	res.Output = out.Payload
	res.Confidence = task.ClampConfidence(out.Confidence)
	observability.Default.IncCounter("worker_tasks_executed_total", map[string]string{"type": string(t.Type)}, 1)
	return res
}

// run guards the capability boundary. A panicking capability is
// converted into an execution error for this task only.
func (w *Worker) run(ctx context.Context, c skill.Capability, t task.Task) (out skill.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability %s panicked: %v", c.Name(), r)
		}
	}()
	return c.Execute(ctx, t)
}

// Publish routes a result by confidence: below the threshold it goes to
// the human escalation queue, otherwise to automatic review. The full
// output always travels with the result; the judge must see exactly
// what was produced before any of it is offloaded.
func (w *Worker) Publish(ctx context.Context, res task.Result) error {
	dest := w.review
	if res.Status == task.ResultSuccess && res.Confidence < w.opts.HITLThreshold {
		dest = w.hitl
	}
	if err := dest.Push(ctx, res); err != nil {
		return fmt.Errorf("publish result %s to %s queue: %w", res.TaskID, dest.Name(), err)
	}
	observability.Default.IncCounter("worker_results_routed_total", map[string]string{"queue": dest.Name()}, 1)
	return nil
}

// RunOnce pops and processes at most one task. The boolean reports
// whether a task was available.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	t, ok, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	res := w.Execute(ctx, t)
	if err := w.Publish(ctx, res); err != nil {
		// The task is already consumed; dropping the result would lose
		// it silently, so surface the failure to the poll loop.
		return true, err
	}
	return true, nil
}

// Run polls until the context is canceled. Backend errors are logged
// and counted, not fatal.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("worker %s: polling every %s (hitl threshold %.2f)", w.id, w.opts.PollInterval, w.opts.HITLThreshold)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		for {
			processed, err := w.RunOnce(ctx)
			if err != nil {
				log.Printf("worker %s: %v", w.id, err)
				observability.Default.IncCounter("worker_poll_errors_total", nil, 1)
				break
			}
			if !processed {
				break
			}
		}
		select {
		case <-ctx.Done():
			log.Printf("worker %s: stopping", w.id)
			return
		case <-ticker.C:
		}
	}
}
