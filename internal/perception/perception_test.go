package perception

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/amin3ltd/project-chimera/internal/state"
	"github.com/amin3ltd/project-chimera/internal/task"
	"github.com/amin3ltd/project-chimera/internal/tenancy"
)

type staticReader struct {
	name    string
	content string
	err     error
	fetches int
}

func (r *staticReader) Name() string { return r.name }
func (r *staticReader) Fetch(context.Context) ([]byte, error) {
	r.fetches++
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.content), nil
}

type fixture struct {
	monitor *Monitor
	queue   *state.TaskQueue
	reader  *staticReader
}

func newFixture(t *testing.T, content string) *fixture {
	t.Helper()
	ks := tenancy.NewKeyspace("ptest")
	qs := state.NewMemoryQueueStore()
	ss := state.NewMemoryStateStore()
	campaigns := state.NewCampaignStore(ss, ks)
	queue := state.NewTaskQueue(qs, ks)
	reader := &staticReader{name: "feed", content: content}
	m := NewMonitor("c1", campaigns, queue, []ResourceReader{reader}, Options{})
	return &fixture{monitor: m, queue: queue, reader: reader}
}

func drain(t *testing.T, q *state.TaskQueue) []task.Task {
	t.Helper()
	var out []task.Task
	for {
		tk, ok, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, tk)
	}
}

func TestScoreTokenOverlap(t *testing.T) {
	f := Filter{Threshold: 0.75}
	cases := []struct {
		goal, content string
		min, max      float64
	}{
		{"AI agents", "AI agents accelerate product teams", 1.0, 1.0},
		{"AI agents", "nothing relevant here", 0, 0},
		{"grow developer community", "our developer community keeps growing", 0.5, 0.7},
		{"", "anything", 0, 0},
	}
	for _, c := range cases {
		got := f.Score(c.goal, c.content)
		if got < c.min || got > c.max {
			t.Fatalf("Score(%q, %q) = %v, want in [%v, %v]", c.goal, c.content, got, c.min, c.max)
		}
	}
}

func TestPollOnceEmitsRelevantLines(t *testing.T) {
	fx := newFixture(t, "- AI agents accelerate product teams\n- celebrity gossip roundup\n")
	n := fx.monitor.PollOnce(context.Background(), []string{"AI agents"}, 4)
	if n != 1 {
		t.Fatalf("emitted = %d, want 1", n)
	}
	tasks := drain(t, fx.queue)
	if len(tasks) != 1 {
		t.Fatalf("queued = %d", len(tasks))
	}
	tk := tasks[0]
	if tk.Type != task.TypeAnalyzeTrends {
		t.Fatalf("type = %s", tk.Type)
	}
	if tk.Priority != task.PriorityHigh {
		t.Fatalf("priority = %s for full overlap", tk.Priority)
	}
	if tk.StateVersion != 4 {
		t.Fatalf("state version = %d", tk.StateVersion)
	}
	if !strings.HasPrefix(tk.GoalDescription, "Trend alert (1.00) from feed:") {
		t.Fatalf("description = %q", tk.GoalDescription)
	}
}

func TestPollOnceSkipsUnchangedSnapshot(t *testing.T) {
	fx := newFixture(t, "AI agents accelerate product teams\n")
	ctx := context.Background()
	goals := []string{"AI agents"}

	if n := fx.monitor.PollOnce(ctx, goals, 1); n != 1 {
		t.Fatalf("first poll emitted %d", n)
	}
	if n := fx.monitor.PollOnce(ctx, goals, 1); n != 0 {
		t.Fatalf("unchanged snapshot emitted %d", n)
	}

	fx.reader.content = "AI agents accelerate product teams\nAI agents write tests now\n"
	if n := fx.monitor.PollOnce(ctx, goals, 1); n != 2 {
		t.Fatalf("changed snapshot emitted %d, want 2", n)
	}
}

func TestPollOnceToleratesReaderFailure(t *testing.T) {
	fx := newFixture(t, "AI agents everywhere\n")
	broken := &staticReader{name: "dead-feed", err: fmt.Errorf("connection refused")}
	fx.monitor.readers = append(fx.monitor.readers, broken)

	n := fx.monitor.PollOnce(context.Background(), []string{"AI agents"}, 1)
	if n != 1 {
		t.Fatalf("emitted = %d despite healthy reader", n)
	}
	if broken.fetches != 1 {
		t.Fatalf("broken reader fetched %d times", broken.fetches)
	}
}

// flakyQueueStore delegates to an in-memory store but fails enqueues on
// demand, standing in for a queue backend outage.
type flakyQueueStore struct {
	state.QueueStore
	fail bool
}

func (s *flakyQueueStore) Enqueue(ctx context.Context, key string, payload []byte, priority int) error {
	if s.fail {
		return fmt.Errorf("queue unavailable")
	}
	return s.QueueStore.Enqueue(ctx, key, payload, priority)
}

func TestPollOnceRetriesSnapshotAfterEnqueueFailure(t *testing.T) {
	ks := tenancy.NewKeyspace("ptest")
	qs := &flakyQueueStore{QueueStore: state.NewMemoryQueueStore(), fail: true}
	campaigns := state.NewCampaignStore(state.NewMemoryStateStore(), ks)
	queue := state.NewTaskQueue(qs, ks)
	reader := &staticReader{name: "feed", content: "AI agents accelerate product teams\n"}
	m := NewMonitor("c1", campaigns, queue, []ResourceReader{reader}, Options{})
	ctx := context.Background()
	goals := []string{"AI agents"}

	if n := m.PollOnce(ctx, goals, 1); n != 0 {
		t.Fatalf("emitted %d during queue outage", n)
	}

	// The snapshot was not consumed, so the same content is re-scanned
	// once the queue recovers.
	qs.fail = false
	if n := m.PollOnce(ctx, goals, 1); n != 1 {
		t.Fatalf("emitted %d after recovery, want 1", n)
	}
	if got := drain(t, queue); len(got) != 1 {
		t.Fatalf("queued = %d after recovery", len(got))
	}
	if n := m.PollOnce(ctx, goals, 1); n != 0 {
		t.Fatalf("consumed snapshot re-emitted %d", n)
	}
}

func TestPollOnceBelowThresholdEmitsNothing(t *testing.T) {
	fx := newFixture(t, "agents appear in one corner\n")
	n := fx.monitor.PollOnce(context.Background(), []string{"grow developer community reach"}, 1)
	if n != 0 {
		t.Fatalf("emitted = %d, want 0", n)
	}
}
