// Package task defines the work-item model shared by the planner,
// perception, worker, and judge services.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeGenerateContent    Type = "generate_content"
	TypeAnalyzeTrends      Type = "analyze_trends"
	TypeReplyComment       Type = "reply_comment"
	TypeExecuteTransaction Type = "execute_transaction"
)

// KnownTypes lists every task type the pipeline routes. Registries are
// validated against this set at startup.
func KnownTypes() []Type {
	return []Type{TypeGenerateContent, TypeAnalyzeTrends, TypeReplyComment, TypeExecuteTransaction}
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank maps a priority band to its queue score. Unknown bands sort with
// low so a malformed producer cannot jump the queue.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusReviewed   Status = "reviewed"
	StatusComplete   Status = "complete"
	StatusRejected   Status = "rejected"
)

// Task is the unit of work flowing through the queue. The ID is
// assigned at creation and never changes.
type Task struct {
	ID                 string    `json:"task_id"`
	Type               Type      `json:"task_type"`
	Priority           Priority  `json:"priority"`
	GoalDescription    string    `json:"goal_description"`
	PersonaConstraints []string  `json:"persona_constraints,omitempty"`
	RequiredResources  []string  `json:"required_resources,omitempty"`
	AssignedWorkerID   string    `json:"assigned_worker_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	Status             Status    `json:"status"`
	CampaignID         string    `json:"campaign_id"`
	Tenant             string    `json:"tenant"`

	// Attempt counts judge-driven retries of this task.
	Attempt int `json:"attempt,omitempty"`

	// StateVersion is the campaign state version observed when the task
	// was created. The judge uses it as the expected version for its
	// commit.
	StateVersion int64 `json:"state_version,omitempty"`
}

func New(tt Type, priority Priority, goal, campaignID, tenant string) Task {
	return Task{
		ID:              uuid.NewString(),
		Type:            tt,
		Priority:        priority,
		GoalDescription: goal,
		CreatedAt:       time.Now().UTC(),
		Status:          StatusPending,
		CampaignID:      campaignID,
		Tenant:          tenant,
	}
}

func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task has no id")
	}
	if t.Type == "" {
		return fmt.Errorf("task %s has no type", t.ID)
	}
	if t.CampaignID == "" {
		return fmt.Errorf("task %s has no campaign id", t.ID)
	}
	return nil
}

type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// Result is the executor's output for one task. Confidence is always
// present and clamped to [0,1]. The originating task rides along so the
// judge can commit against the recorded state version and requeue on
// retry without a task lookup.
type Result struct {
	TaskID       string         `json:"task_id"`
	Status       ResultStatus   `json:"status"`
	Output       map[string]any `json:"output"`
	Confidence   float64        `json:"confidence_score"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ExecutedAt   time.Time      `json:"executed_at"`
	Task         Task           `json:"task"`
}

// ClampConfidence bounds a raw score into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type Verdict string

const (
	VerdictApprove  Verdict = "approve"
	VerdictReject   Verdict = "reject"
	VerdictEscalate Verdict = "escalate"
)

// Decision is the judge's immutable outcome for one result.
type Decision struct {
	TaskID              string    `json:"task_id"`
	Tenant              string    `json:"tenant"`
	Verdict             Verdict   `json:"decision"`
	Confidence          float64   `json:"confidence_score"`
	Reasoning           string    `json:"reasoning"`
	RequiresHumanReview bool      `json:"requires_human_review"`
	DecidedAt           time.Time `json:"decided_at"`
}
