// Package judge reviews worker results, gates transactions against
// budget caps, and commits approved outputs into campaign state under
// optimistic concurrency control.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/amin3ltd/project-chimera/internal/artifact"
	"github.com/amin3ltd/project-chimera/internal/observability"
	"github.com/amin3ltd/project-chimera/internal/policy"
	"github.com/amin3ltd/project-chimera/internal/state"
	"github.com/amin3ltd/project-chimera/internal/task"
)

const (
	defaultPollInterval = 1 * time.Second
	// Approved outputs above this encoded size are offloaded to the
	// artifact store after the decision, never before: the review must
	// always see the full output.
	defaultOffloadBytes = 32 * 1024
)

type Options struct {
	PollInterval time.Duration
	OffloadBytes int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.OffloadBytes <= 0 {
		o.OffloadBytes = defaultOffloadBytes
	}
	return o
}

// Judge drains the review queue and disposes each result: approve,
// escalate to the human queue, or reject.
type Judge struct {
	review    *state.ResultQueue
	hitl      *state.ResultQueue
	tasks     *state.TaskQueue
	campaigns *state.CampaignStore
	artifacts artifact.Store
	pol       *policy.Engine
	opts      Options
}

func New(review, hitl *state.ResultQueue, tasks *state.TaskQueue, campaigns *state.CampaignStore, artifacts artifact.Store, pol *policy.Engine, opts Options) *Judge {
	return &Judge{
		review:    review,
		hitl:      hitl,
		tasks:     tasks,
		campaigns: campaigns,
		artifacts: artifacts,
		pol:       pol,
		opts:      opts.withDefaults(),
	}
}

// Evaluate is the pure decision table. Sensitive content escalates
// before confidence is consulted, so a high-confidence result touching
// a sensitive topic still reaches a human.
func Evaluate(res task.Result, pol policy.Review) task.Decision {
	d := task.Decision{
		TaskID:     res.TaskID,
		Tenant:     res.Task.Tenant,
		Confidence: res.Confidence,
		DecidedAt:  time.Now().UTC(),
	}
	if res.Status != task.ResultSuccess {
		d.Verdict = task.VerdictReject
		d.Reasoning = fmt.Sprintf("execution failed: %s", res.ErrorMessage)
		return d
	}
	if pol.Sensitive(renderOutput(res.Output)) {
		d.Verdict = task.VerdictEscalate
		d.RequiresHumanReview = true
		d.Reasoning = "output matches a sensitive topic pattern"
		return d
	}
	switch {
	case res.Confidence >= pol.ApproveThreshold:
		d.Verdict = task.VerdictApprove
		d.Reasoning = fmt.Sprintf("confidence %.2f meets approval threshold %.2f", res.Confidence, pol.ApproveThreshold)
	case res.Confidence >= pol.EscalateThreshold:
		d.Verdict = task.VerdictEscalate
		d.RequiresHumanReview = true
		d.Reasoning = fmt.Sprintf("confidence %.2f in escalation band [%.2f, %.2f)", res.Confidence, pol.EscalateThreshold, pol.ApproveThreshold)
	default:
		d.Verdict = task.VerdictReject
		d.Reasoning = fmt.Sprintf("confidence %.2f below escalation threshold %.2f", res.Confidence, pol.EscalateThreshold)
	}
	return d
}

func renderOutput(out map[string]any) string {
	if out == nil {
		return ""
	}
	b, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(b)
}

// Process disposes one result. Returned errors are backend failures;
// rejected or conflicted results are normal outcomes.
func (j *Judge) Process(ctx context.Context, res task.Result) error {
	ctx, span := observability.StartSpan(ctx, "judge.process",
		attribute.String("task.id", res.TaskID),
		attribute.String("task.type", string(res.Task.Type)),
	)
	defer span.End()

	d := Evaluate(res, j.pol.Review)

	if d.Verdict == task.VerdictApprove && res.Task.Type == task.TypeExecuteTransaction {
		gated, reason, err := j.overBudget(ctx, res)
		if err != nil {
			return err
		}
		if gated {
			d.Verdict = task.VerdictEscalate
			d.RequiresHumanReview = true
			d.Reasoning = reason
		}
	}

	observability.Default.IncCounter("judge_decisions_total",
		map[string]string{"verdict": string(d.Verdict)}, 1)

	switch d.Verdict {
	case task.VerdictApprove:
		return j.commitApproved(ctx, res, d)
	case task.VerdictEscalate:
		if err := j.hitl.Push(ctx, res); err != nil {
			return fmt.Errorf("escalate task %s: %w", res.TaskID, err)
		}
		log.Printf("judge: escalated task %s to human review: %s", res.TaskID, d.Reasoning)
		return nil
	default:
		return j.reject(ctx, res, d)
	}
}

// overBudget checks the per-transaction and running daily caps before a
// transaction result can be approved. It never charges the budget; the
// charge happens once, after the commit succeeds, so a conflicted
// commit that returns to the review queue cannot debit twice.
func (j *Judge) overBudget(ctx context.Context, res task.Result) (bool, string, error) {
	amount := outputAmount(res.Output)
	caps := j.pol.Budget
	if amount > caps.MaxTransactionAmount {
		return true, fmt.Sprintf("transaction amount %.2f exceeds per-transaction cap %.2f", amount, caps.MaxTransactionAmount), nil
	}
	spent, err := j.campaigns.Spend(ctx, budgetAgent(res))
	if err != nil {
		return false, "", fmt.Errorf("read budget for agent %s: %w", budgetAgent(res), err)
	}
	if spent+amount > caps.MaxDailySpend {
		return true, fmt.Sprintf("spend %.2f plus amount %.2f exceeds daily cap %.2f", spent, amount, caps.MaxDailySpend), nil
	}
	return false, "", nil
}

// chargeBudget debits a committed transaction.
func (j *Judge) chargeBudget(ctx context.Context, res task.Result) error {
	if res.Task.Type != task.TypeExecuteTransaction {
		return nil
	}
	if _, err := j.campaigns.AddSpend(ctx, budgetAgent(res), outputAmount(res.Output)); err != nil {
		return fmt.Errorf("charge budget for agent %s: %w", budgetAgent(res), err)
	}
	return nil
}

func budgetAgent(res task.Result) string {
	if res.Task.AssignedWorkerID == "" {
		return "unassigned"
	}
	return res.Task.AssignedWorkerID
}

func outputAmount(out map[string]any) float64 {
	if v, ok := out["amount"]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}

// commitApproved bumps the campaign version at the version the task was
// planned against, retrying against the authoritative version on
// conflict. When retries are exhausted the result is returned to the
// review queue instead of being dropped.
func (j *Judge) commitApproved(ctx context.Context, res task.Result, d task.Decision) error {
	expected := res.Task.StateVersion
	attempts := j.pol.Judge.CommitRetries + 1
	for i := 0; i < attempts; i++ {
		c, ok, err := j.campaigns.Get(ctx, res.Task.CampaignID)
		if err != nil {
			return fmt.Errorf("read campaign %s: %w", res.Task.CampaignID, err)
		}
		if !ok {
			// Campaign is gone; keep the approved output but there is
			// no state left to commit against.
			log.Printf("judge: campaign %s missing, storing output for task %s without commit", res.Task.CampaignID, res.TaskID)
			if err := j.chargeBudget(ctx, res); err != nil {
				return err
			}
			return j.storeOutput(ctx, res, d, 0)
		}
		if i > 0 {
			expected = c.Version
		}
		commit, err := j.campaigns.CompareAndSet(ctx, expected, c)
		if err != nil {
			return fmt.Errorf("commit task %s: %w", res.TaskID, err)
		}
		if commit.OK {
			if err := j.chargeBudget(ctx, res); err != nil {
				return err
			}
			return j.storeOutput(ctx, res, d, commit.StateVersion)
		}
		expected = commit.StateVersion
		observability.Default.IncCounter("judge_commit_conflicts_total", nil, 1)
	}
	observability.Default.IncCounter("judge_commit_exhausted_total", nil, 1)
	if err := j.review.Push(ctx, res); err != nil {
		return fmt.Errorf("requeue conflicted result %s: %w", res.TaskID, err)
	}
	log.Printf("judge: commit retries exhausted for task %s, returned to review queue", res.TaskID)
	return nil
}

// storeOutput persists the approved output record, first offloading an
// oversized output body to the artifact store. Offload runs strictly
// after the decision and commit so the review always saw the full
// content.
func (j *Judge) storeOutput(ctx context.Context, res task.Result, d task.Decision, committedVersion int64) error {
	output := res.Output
	if j.artifacts != nil && output != nil {
		if encoded, err := json.Marshal(output); err == nil && len(encoded) > j.opts.OffloadBytes {
			key := fmt.Sprintf("%s/%s/output.json", res.Task.Tenant, res.TaskID)
			uri, perr := j.artifacts.Put(ctx, key, encoded)
			if perr != nil {
				log.Printf("judge: artifact offload for task %s failed, keeping inline output: %v", res.TaskID, perr)
			} else {
				output = map[string]any{"artifact_uri": uri, "offloaded_bytes": len(encoded)}
				observability.Default.IncCounter("judge_outputs_offloaded_total", nil, 1)
			}
		}
	}
	record := struct {
		Decision task.Decision  `json:"decision"`
		Output   map[string]any `json:"output"`
		Version  int64          `json:"committed_version"`
	}{Decision: d, Output: output, Version: committedVersion}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode approved output %s: %w", res.TaskID, err)
	}
	return j.campaigns.PutOutput(ctx, res.TaskID, payload, j.pol.Judge.OutputTTL())
}

// reject is terminal unless the policy grants retries and the task has
// attempts remaining.
func (j *Judge) reject(ctx context.Context, res task.Result, d task.Decision) error {
	maxRetries := j.pol.Judge.MaxTaskRetries
	if maxRetries > 0 && res.Task.Attempt < maxRetries {
		retry := res.Task
		retry.Attempt++
		retry.Status = task.StatusPending
		retry.AssignedWorkerID = ""
		if err := j.tasks.Enqueue(ctx, retry); err != nil {
			return fmt.Errorf("requeue rejected task %s: %w", res.TaskID, err)
		}
		observability.Default.IncCounter("judge_task_retries_total", nil, 1)
		log.Printf("judge: rejected task %s requeued (attempt %d of %d): %s", res.TaskID, retry.Attempt, maxRetries, d.Reasoning)
		return nil
	}
	log.Printf("judge: rejected task %s: %s", res.TaskID, d.Reasoning)
	return nil
}

// RecordHumanDecision persists a manual disposition for an escalated
// task.
func (j *Judge) RecordHumanDecision(ctx context.Context, d state.HumanDecision) error {
	switch task.Verdict(d.Verdict) {
	case task.VerdictApprove, task.VerdictReject:
	default:
		return fmt.Errorf("human decision for task %s has verdict %q, want approve or reject", d.TaskID, d.Verdict)
	}
	return j.campaigns.RecordHumanDecision(ctx, d, j.pol.Judge.HumanDecisionTTL())
}

// RunOnce reviews at most one result from the review queue.
func (j *Judge) RunOnce(ctx context.Context) (bool, error) {
	res, ok, err := j.review.Pop(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, j.Process(ctx, res)
}

// Run polls the review queue until the context is canceled.
func (j *Judge) Run(ctx context.Context) {
	log.Printf("judge: polling every %s (approve %.2f, escalate %.2f)",
		j.opts.PollInterval, j.pol.Review.ApproveThreshold, j.pol.Review.EscalateThreshold)
	ticker := time.NewTicker(j.opts.PollInterval)
	defer ticker.Stop()
	for {
		for {
			processed, err := j.RunOnce(ctx)
			if err != nil {
				log.Printf("judge: %v", err)
				observability.Default.IncCounter("judge_poll_errors_total", nil, 1)
				break
			}
			if !processed {
				break
			}
		}
		select {
		case <-ctx.Done():
			log.Printf("judge: stopping")
			return
		case <-ticker.C:
		}
	}
}
