package planner

import (
	"context"
	"testing"
	"time"

	"github.com/amin3ltd/project-chimera/internal/state"
	"github.com/amin3ltd/project-chimera/internal/task"
	"github.com/amin3ltd/project-chimera/internal/tenancy"
)

func newFixture(t *testing.T, opts Options) (*Planner, *state.CampaignStore, *state.TaskQueue) {
	t.Helper()
	ks := tenancy.NewKeyspace("ptest")
	campaigns := state.NewCampaignStore(state.NewMemoryStateStore(), ks)
	queue := state.NewTaskQueue(state.NewMemoryQueueStore(), ks)
	return New(campaigns, queue, nil, opts), campaigns, queue
}

func drain(t *testing.T, q *state.TaskQueue) []task.Task {
	t.Helper()
	var out []task.Task
	for {
		got, ok, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, got)
	}
}

func TestTickDecomposesActiveGoals(t *testing.T) {
	p, campaigns, queue := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := campaigns.Init(ctx, state.Campaign{
		CampaignID: "c1",
		Goals:      []string{"Research AI trends", "Generate content about AI agents"},
	}); err != nil {
		t.Fatalf("init: %v", err)
	}

	n, err := p.Tick(ctx, "c1")
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	tasks := drain(t, queue)
	if len(tasks) != n {
		t.Fatalf("tick reported %d, queue held %d", n, len(tasks))
	}

	var trends, content int
	for _, tt := range tasks {
		if tt.Tenant != "ptest" || tt.CampaignID != "c1" {
			t.Fatalf("task missing tenancy stamps: %+v", tt)
		}
		if tt.StateVersion != 1 {
			t.Fatalf("task state version = %d, want 1", tt.StateVersion)
		}
		switch tt.Type {
		case task.TypeAnalyzeTrends:
			trends++
		case task.TypeGenerateContent:
			content++
		}
	}
	// The research goal yields a mandatory trend-analysis task.
	if trends == 0 {
		t.Fatalf("research goal produced no trend-analysis task")
	}
	if content == 0 {
		t.Fatalf("content goal produced no content task")
	}
}

func TestTickIsNoopWhenCampaignNotActive(t *testing.T) {
	p, campaigns, queue := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := campaigns.Init(ctx, state.Campaign{
		CampaignID: "c1",
		Goals:      []string{"g"},
		Status:     state.CampaignPaused,
	}); err != nil {
		t.Fatalf("init: %v", err)
	}

	if n, err := p.Tick(ctx, "c1"); err != nil || n != 0 {
		t.Fatalf("paused tick enqueued %d err=%v", n, err)
	}
	if n, err := p.Tick(ctx, "unknown"); err != nil || n != 0 {
		t.Fatalf("unknown campaign tick enqueued %d err=%v", n, err)
	}
	if got := drain(t, queue); len(got) != 0 {
		t.Fatalf("queue not empty: %d tasks", len(got))
	}
}

// Successive ticks re-emit tasks for unchanged goals: the planner does
// not deduplicate by default, downstream consumers must tolerate
// duplicate work.
func TestSuccessiveTicksEmitDuplicates(t *testing.T) {
	p, campaigns, queue := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := campaigns.Init(ctx, state.Campaign{CampaignID: "c1", Goals: []string{"write a post"}}); err != nil {
		t.Fatalf("init: %v", err)
	}

	n1, err := p.Tick(ctx, "c1")
	if err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	n2, err := p.Tick(ctx, "c1")
	if err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if n1 == 0 || n2 != n1 {
		t.Fatalf("ticks enqueued %d then %d, want equal non-zero", n1, n2)
	}
	tasks := drain(t, queue)
	if len(tasks) != n1+n2 {
		t.Fatalf("queue held %d tasks, want %d", len(tasks), n1+n2)
	}
	// Duplicate goals still produce distinct task ids.
	if tasks[0].ID == tasks[1].ID {
		t.Fatalf("duplicate tasks share an id")
	}
}

func TestDedupWindowSuppressesRepeats(t *testing.T) {
	p, campaigns, queue := newFixture(t, Options{DedupWindow: time.Minute})
	ctx := context.Background()
	if _, err := campaigns.Init(ctx, state.Campaign{CampaignID: "c1", Goals: []string{"write a post"}}); err != nil {
		t.Fatalf("init: %v", err)
	}

	n1, err := p.Tick(ctx, "c1")
	if err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	n2, err := p.Tick(ctx, "c1")
	if err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if n1 == 0 || n2 != 0 {
		t.Fatalf("ticks enqueued %d then %d, want suppression on second", n1, n2)
	}
	if got := drain(t, queue); len(got) != n1 {
		t.Fatalf("queue held %d tasks, want %d", len(got), n1)
	}
}

func TestDedupMapSweepsExpiredEntries(t *testing.T) {
	p, campaigns, queue := newFixture(t, Options{DedupWindow: 10 * time.Millisecond})
	ctx := context.Background()
	if _, err := campaigns.Init(ctx, state.Campaign{CampaignID: "c1", Goals: []string{"write a post"}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := p.Tick(ctx, "c1"); err != nil {
		t.Fatalf("tick: %v", err)
	}
	drain(t, queue)

	// Rotate the goal set so the earlier tuples expire while new ones
	// arrive; the map must hold only tuples inside the live window.
	for i := 0; i < 3; i++ {
		time.Sleep(15 * time.Millisecond)
		c, _, err := campaigns.Get(ctx, "c1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		c.Goals = []string{"write a post about topic " + string(rune('a'+i))}
		if _, err := campaigns.CompareAndSet(ctx, c.Version, c); err != nil {
			t.Fatalf("update goals: %v", err)
		}
		if _, err := p.Tick(ctx, "c1"); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		drain(t, queue)
	}

	p.mu.Lock()
	size := len(p.recent)
	p.mu.Unlock()
	if size > 1 {
		t.Fatalf("dedup map holds %d entries, want expired tuples swept", size)
	}
}

func TestKeywordStrategySelectsTypes(t *testing.T) {
	s := KeywordStrategy{Constraints: []string{"professional", "engaging"}}

	byType := func(tasks []task.Task) map[task.Type]task.Task {
		m := make(map[task.Type]task.Task, len(tasks))
		for _, tt := range tasks {
			m[tt.Type] = tt
		}
		return m
	}

	got := byType(s.Decompose("Research emerging AI trends", "c1"))
	if _, ok := got[task.TypeAnalyzeTrends]; !ok {
		t.Fatalf("research goal missing trend-analysis: %v", got)
	}
	if got[task.TypeAnalyzeTrends].Priority != task.PriorityHigh {
		t.Fatalf("trend-analysis priority = %q", got[task.TypeAnalyzeTrends].Priority)
	}

	got = byType(s.Decompose("Reply to community comments", "c1"))
	if _, ok := got[task.TypeReplyComment]; !ok {
		t.Fatalf("reply goal missing reply task: %v", got)
	}

	got = byType(s.Decompose("Transfer weekly creator payouts", "c1"))
	if _, ok := got[task.TypeExecuteTransaction]; !ok {
		t.Fatalf("transaction goal missing transaction task: %v", got)
	}

	tasks := s.Decompose("Write an essay", "c1")
	if len(tasks) != 1 || tasks[0].Type != task.TypeGenerateContent {
		t.Fatalf("fallback decomposition = %+v", tasks)
	}
	if len(tasks[0].PersonaConstraints) != 2 {
		t.Fatalf("constraints not propagated: %+v", tasks[0])
	}
}
