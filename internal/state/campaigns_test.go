package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amin3ltd/project-chimera/internal/tenancy"
)

func newTestCampaigns() *CampaignStore {
	return NewCampaignStore(NewMemoryStateStore(), tenancy.NewKeyspace("ctest"))
}

func TestCampaignInitAndGet(t *testing.T) {
	cs := newTestCampaigns()
	ctx := context.Background()

	res, err := cs.Init(ctx, Campaign{CampaignID: "c1", Goals: []string{"AI agents"}, BudgetLimit: 100})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !res.OK || res.StateVersion != 1 {
		t.Fatalf("init result = %+v, want OK at version 1", res)
	}

	c, ok, err := cs.Get(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if c.Version != 1 || c.Status != CampaignActive || len(c.Goals) != 1 {
		t.Fatalf("unexpected campaign %+v", c)
	}

	// Re-initializing an existing campaign must conflict, not reset it.
	res, err = cs.Init(ctx, Campaign{CampaignID: "c1"})
	if err != nil {
		t.Fatalf("re-init: %v", err)
	}
	if res.OK {
		t.Fatalf("re-init succeeded, want conflict")
	}
}

func TestCompareAndSetConflictReturnsCurrentVersion(t *testing.T) {
	cs := newTestCampaigns()
	ctx := context.Background()
	if _, err := cs.Init(ctx, Campaign{CampaignID: "c1", Goals: []string{"g"}}); err != nil {
		t.Fatalf("init: %v", err)
	}

	c, _, _ := cs.Get(ctx, "c1")

	first, err := cs.CompareAndSet(ctx, c.Version, c)
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if !first.OK || first.StateVersion != 2 {
		t.Fatalf("first commit = %+v, want version 2", first)
	}

	// Second writer still holds the stale version.
	second, err := cs.CompareAndSet(ctx, c.Version, c)
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if second.OK {
		t.Fatalf("stale commit succeeded")
	}
	if second.StateVersion != 2 {
		t.Fatalf("conflict reported version %d, want authoritative 2", second.StateVersion)
	}

	// Retrying with the fresh version succeeds.
	retry, err := cs.CompareAndSet(ctx, second.StateVersion, c)
	if err != nil {
		t.Fatalf("retry commit: %v", err)
	}
	if !retry.OK || retry.StateVersion != 3 {
		t.Fatalf("retry commit = %+v, want version 3", retry)
	}
}

func TestCompareAndSetConcurrentWritersExactlyOneWins(t *testing.T) {
	cs := newTestCampaigns()
	ctx := context.Background()
	if _, err := cs.Init(ctx, Campaign{CampaignID: "c1"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	c, _, _ := cs.Get(ctx, "c1")

	const writers = 8
	results := make([]CommitResult, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := cs.CompareAndSet(ctx, c.Version, c)
			if err != nil {
				t.Errorf("writer %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r.OK {
			wins++
		} else if r.StateVersion != 2 {
			t.Fatalf("loser got version %d, want 2", r.StateVersion)
		}
	}
	if wins != 1 {
		t.Fatalf("%d writers won, want exactly 1", wins)
	}
}

func TestActiveGoalsRespectsCampaignStatus(t *testing.T) {
	cs := newTestCampaigns()
	ctx := context.Background()
	if _, err := cs.Init(ctx, Campaign{CampaignID: "c1", Goals: []string{"g1", "g2"}}); err != nil {
		t.Fatalf("init: %v", err)
	}

	goals, version, err := cs.ActiveGoals(ctx, "c1")
	if err != nil {
		t.Fatalf("active goals: %v", err)
	}
	if len(goals) != 2 || version != 1 {
		t.Fatalf("goals=%v version=%d", goals, version)
	}

	c, _, _ := cs.Get(ctx, "c1")
	c.Status = CampaignPaused
	if res, err := cs.CompareAndSet(ctx, c.Version, c); err != nil || !res.OK {
		t.Fatalf("pause: res=%+v err=%v", res, err)
	}
	goals, _, err = cs.ActiveGoals(ctx, "c1")
	if err != nil {
		t.Fatalf("active goals after pause: %v", err)
	}
	if len(goals) != 0 {
		t.Fatalf("paused campaign returned goals %v", goals)
	}

	if goals, _, _ := cs.ActiveGoals(ctx, "unknown"); len(goals) != 0 {
		t.Fatalf("unknown campaign returned goals %v", goals)
	}
}

func TestOutputRecordTTL(t *testing.T) {
	cs := newTestCampaigns()
	ctx := context.Background()

	if err := cs.PutOutput(ctx, "t1", []byte(`{"content":"x"}`), 10*time.Millisecond); err != nil {
		t.Fatalf("put output: %v", err)
	}
	if _, ok, err := cs.GetOutput(ctx, "t1"); err != nil || !ok {
		t.Fatalf("output missing before expiry: ok=%v err=%v", ok, err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := cs.GetOutput(ctx, "t1"); ok {
		t.Fatalf("output survived past its ttl")
	}
}

func TestHumanDecisionRecord(t *testing.T) {
	cs := newTestCampaigns()
	ctx := context.Background()

	d := HumanDecision{TaskID: "t1", Reviewer: "ops@example.com", Verdict: "approve"}
	if err := cs.RecordHumanDecision(ctx, d, time.Hour); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, ok, err := cs.GetHumanDecision(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("get decision: ok=%v err=%v", ok, err)
	}
	if got.Reviewer != d.Reviewer || got.Verdict != d.Verdict || got.DecidedAt.IsZero() {
		t.Fatalf("unexpected decision %+v", got)
	}

	if err := cs.RecordHumanDecision(ctx, HumanDecision{}, time.Hour); err == nil {
		t.Fatalf("expected error recording decision without task id")
	}
}

func TestBudgetSpendAccumulates(t *testing.T) {
	cs := newTestCampaigns()
	ctx := context.Background()

	if total, err := cs.AddSpend(ctx, "agent-1", 7.5); err != nil || total != 7.5 {
		t.Fatalf("first spend total=%v err=%v", total, err)
	}
	if total, err := cs.AddSpend(ctx, "agent-1", 2.5); err != nil || total != 10 {
		t.Fatalf("second spend total=%v err=%v", total, err)
	}
	if total, err := cs.Spend(ctx, "agent-1"); err != nil || total != 10 {
		t.Fatalf("read spend total=%v err=%v", total, err)
	}
	// Budgets are per agent.
	if total, err := cs.Spend(ctx, "agent-2"); err != nil || total != 0 {
		t.Fatalf("other agent total=%v err=%v", total, err)
	}
}
