package skill

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amin3ltd/project-chimera/internal/task"
)

// Builtin wires the stock capability set into a validated registry.
func Builtin() (*Registry, error) {
	r := NewRegistry()
	for tt, c := range map[task.Type]Capability{
		task.TypeAnalyzeTrends:      TrendAnalysis{},
		task.TypeGenerateContent:    ContentDraft{},
		task.TypeReplyComment:       CommentReply{},
		task.TypeExecuteTransaction: TransactionStub{},
	} {
		if err := r.Register(tt, c); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(task.KnownTypes()...); err != nil {
		return nil, err
	}
	return r, nil
}

// TrendAnalysis summarizes a goal into a ranked topic list.
type TrendAnalysis struct{}

func (TrendAnalysis) Name() string { return "trend_analysis" }

func (TrendAnalysis) Execute(_ context.Context, t task.Task) (Output, error) {
	topics := keywordTopics(t.GoalDescription, 3)
	return Output{
		Payload: map[string]any{
			"topics":      topics,
			"summary":     fmt.Sprintf("identified %d trending topics for goal: %s", len(topics), t.GoalDescription),
			"analyzed_at": time.Now().UTC().Format(time.RFC3339),
		},
		Confidence: 0.88,
	}, nil
}

// ContentDraft produces a post draft honoring persona constraints.
type ContentDraft struct{}

func (ContentDraft) Name() string { return "content_draft" }

func (ContentDraft) Execute(_ context.Context, t task.Task) (Output, error) {
	tone := constraintValue(t.PersonaConstraints, "tone", "neutral")
	body := fmt.Sprintf("[%s] %s", tone, t.GoalDescription)
	return Output{
		Payload: map[string]any{
			"draft":   body,
			"tone":    tone,
			"length":  len(body),
			"goal":    t.GoalDescription,
			"created": time.Now().UTC().Format(time.RFC3339),
		},
		Confidence: 0.92,
	}, nil
}

// CommentReply drafts a short response to an inbound comment.
type CommentReply struct{}

func (CommentReply) Name() string { return "comment_reply" }

func (CommentReply) Execute(_ context.Context, t task.Task) (Output, error) {
	if strings.TrimSpace(t.GoalDescription) == "" {
		return Output{}, fmt.Errorf("reply task %s has no comment context", t.ID)
	}
	return Output{
		Payload: map[string]any{
			"reply":       fmt.Sprintf("Thanks for the note. Regarding %q, we will follow up shortly.", t.GoalDescription),
			"in_reply_to": t.GoalDescription,
		},
		Confidence: 0.85,
	}, nil
}

// TransactionStub prepares a transaction record without touching any
// external payment rail. Actual execution stays behind review.
type TransactionStub struct{}

func (TransactionStub) Name() string { return "transaction_stub" }

func (TransactionStub) Execute(_ context.Context, t task.Task) (Output, error) {
	raw := constraintValue(t.RequiredResources, "amount", "0")
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Output{}, fmt.Errorf("transaction task %s has malformed amount %q", t.ID, raw)
	}
	if amount < 0 {
		return Output{}, fmt.Errorf("transaction task %s has negative amount %.2f", t.ID, amount)
	}
	return Output{
		Payload: map[string]any{
			"amount":   amount,
			"agent_id": t.AssignedWorkerID,
			"prepared": true,
			"memo":     t.GoalDescription,
		},
		Confidence: 0.80,
	}, nil
}

// constraintValue extracts "key:value" entries from a constraint or
// resource list.
func constraintValue(entries []string, key, fallback string) string {
	prefix := key + ":"
	for _, e := range entries {
		if strings.HasPrefix(e, prefix) {
			if v := strings.TrimSpace(strings.TrimPrefix(e, prefix)); v != "" {
				return v
			}
		}
	}
	return fallback
}

func keywordTopics(goal string, max int) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, max)
	for _, w := range strings.Fields(strings.ToLower(goal)) {
		w = strings.Trim(w, ".,;:!?\"'")
		if len(w) <= 3 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == max {
			break
		}
	}
	return out
}
