package planner

import (
	"strings"

	"github.com/amin3ltd/project-chimera/internal/task"
)

// Strategy decomposes one campaign goal into tasks. Implementations
// must be pure: same goal in, same task shapes out (ids differ).
type Strategy interface {
	Decompose(goal, campaignID string) []task.Task
}

// KeywordStrategy is the default decomposition: keyword-driven task
// type selection, plus a trend-analysis task whenever the goal implies
// research.
type KeywordStrategy struct {
	// Constraints are stamped onto every emitted task.
	Constraints []string
}

var researchWords = []string{"research", "trend", "analyze", "analyse", "monitor", "investigate"}
var replyWords = []string{"reply", "respond", "comment", "engage"}
var transactionWords = []string{"buy", "purchase", "transfer", "pay", "transaction"}

func (s KeywordStrategy) Decompose(goal, campaignID string) []task.Task {
	lower := strings.ToLower(goal)
	out := make([]task.Task, 0, 3)

	add := func(tt task.Type, p task.Priority, desc string) {
		t := task.New(tt, p, desc, campaignID, "")
		t.PersonaConstraints = append([]string(nil), s.Constraints...)
		out = append(out, t)
	}

	if containsAny(lower, researchWords) {
		add(task.TypeAnalyzeTrends, task.PriorityHigh, "Analyze trends for: "+goal)
	}
	switch {
	case containsAny(lower, replyWords):
		add(task.TypeReplyComment, task.PriorityMedium, "Reply to audience for: "+goal)
	case containsAny(lower, transactionWords):
		add(task.TypeExecuteTransaction, task.PriorityHigh, "Execute transaction for: "+goal)
	default:
		add(task.TypeGenerateContent, task.PriorityMedium, "Generate content about: "+goal)
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
