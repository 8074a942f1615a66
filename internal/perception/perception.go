// Package perception polls external resources, scores fetched lines
// against campaign goals, and turns relevant hits into trend tasks.
package perception

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/amin3ltd/project-chimera/internal/observability"
	"github.com/amin3ltd/project-chimera/internal/state"
	"github.com/amin3ltd/project-chimera/internal/task"
)

const (
	defaultThreshold    = 0.75
	defaultPollInterval = 30 * time.Second
	highSignalScore     = 0.90
)

// ResourceReader fetches the current snapshot of one named resource.
type ResourceReader interface {
	Name() string
	Fetch(ctx context.Context) ([]byte, error)
}

// Filter scores content lines against goals by token overlap.
type Filter struct {
	Threshold float64
}

// Score is the share of a goal's tokens present in the content.
// Tokens are lowercased alphanumeric runs longer than two characters,
// so stopword-like glue does not inflate the overlap.
func (f Filter) Score(goal, content string) float64 {
	goalToks := tokenize(goal)
	if len(goalToks) == 0 {
		return 0
	}
	contentToks := make(map[string]bool, 16)
	for _, tok := range tokenize(content) {
		contentToks[tok] = true
	}
	hits := 0
	for _, tok := range goalToks {
		if contentToks[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(goalToks))
}

func (f Filter) Relevant(score float64) bool {
	return score >= f.Threshold
}

func tokenize(s string) []string {
	var toks []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 2 {
			toks = append(toks, b.String())
		}
		b.Reset()
	}
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return toks
}

type Options struct {
	PollInterval time.Duration
	Threshold    float64
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Threshold <= 0 {
		o.Threshold = defaultThreshold
	}
	return o
}

// Monitor drives the perception loop for one campaign: fetch every
// resource, skip snapshots already seen, and enqueue a trend task for
// each sufficiently relevant line.
type Monitor struct {
	campaignID string
	campaigns  *state.CampaignStore
	queue      *state.TaskQueue
	readers    []ResourceReader
	filter     Filter
	opts       Options

	// seen maps reader name to the fingerprint of its last snapshot.
	seen map[string]string
}

func NewMonitor(campaignID string, campaigns *state.CampaignStore, queue *state.TaskQueue, readers []ResourceReader, opts Options) *Monitor {
	opts = opts.withDefaults()
	return &Monitor{
		campaignID: campaignID,
		campaigns:  campaigns,
		queue:      queue,
		readers:    readers,
		filter:     Filter{Threshold: opts.Threshold},
		opts:       opts,
		seen:       make(map[string]string),
	}
}

// PollOnce runs one perception cycle against the given goals and
// returns the number of tasks emitted. Reader failures are logged and
// skipped so one dead feed does not stall the rest.
func (m *Monitor) PollOnce(ctx context.Context, goals []string, stateVersion int64) int {
	emitted := 0
	for _, r := range m.readers {
		content, err := r.Fetch(ctx)
		if err != nil {
			log.Printf("perception: fetch %s: %v", r.Name(), err)
			observability.Default.IncCounter("perception_fetch_errors_total",
				map[string]string{"resource": r.Name()}, 1)
			continue
		}
		fp := fingerprint(content)
		if m.seen[r.Name()] == fp {
			continue
		}
		n, failed := m.scan(ctx, r.Name(), string(content), goals, stateVersion)
		emitted += n
		if failed == 0 {
			// A snapshot only counts as consumed once every relevant
			// line was enqueued; a transient queue outage leaves it
			// eligible for the next cycle.
			m.seen[r.Name()] = fp
		}
	}
	observability.Default.IncCounter("perception_polls_total", nil, 1)
	return emitted
}

func (m *Monitor) scan(ctx context.Context, resource, content string, goals []string, stateVersion int64) (emitted, failed int) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.Trim(line, " -\t")
		if line == "" {
			continue
		}
		bestGoal, bestScore := "", 0.0
		for _, g := range goals {
			if s := m.filter.Score(g, line); s > bestScore {
				bestGoal, bestScore = g, s
			}
		}
		if !m.filter.Relevant(bestScore) {
			continue
		}
		priority := task.PriorityMedium
		if bestScore >= highSignalScore {
			priority = task.PriorityHigh
		}
		desc := fmt.Sprintf("Trend alert (%.2f) from %s: %s", bestScore, resource, line)
		t := task.New(task.TypeAnalyzeTrends, priority, desc, m.campaignID, m.campaigns.Keyspace().Tenant())
		t.StateVersion = stateVersion
		t.RequiredResources = []string{
			"resource:" + resource,
			"goal:" + bestGoal,
			fmt.Sprintf("score:%.2f", bestScore),
		}
		if err := m.queue.Enqueue(ctx, t); err != nil {
			log.Printf("perception: enqueue trend task: %v", err)
			failed++
			continue
		}
		emitted++
		observability.Default.IncCounter("perception_tasks_emitted_total",
			map[string]string{"resource": resource}, 1)
	}
	return emitted, failed
}

func fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Run polls until the context is canceled, re-reading the campaign's
// goals each cycle so pauses and goal edits take effect without a
// restart.
func (m *Monitor) Run(ctx context.Context) {
	log.Printf("perception: campaign %s, %d resources, polling every %s",
		m.campaignID, len(m.readers), m.opts.PollInterval)
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	for {
		goals, version, err := m.campaigns.ActiveGoals(ctx, m.campaignID)
		if err != nil {
			log.Printf("perception: read goals: %v", err)
		} else if len(goals) > 0 {
			m.PollOnce(ctx, goals, version)
		}
		select {
		case <-ctx.Done():
			log.Printf("perception: stopping")
			return
		case <-ticker.C:
		}
	}
}
