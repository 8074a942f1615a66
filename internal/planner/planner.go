// Package planner reads campaign state and turns active goals into
// queued tasks on a fixed interval.
package planner

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/amin3ltd/project-chimera/internal/observability"
	"github.com/amin3ltd/project-chimera/internal/state"
	"github.com/amin3ltd/project-chimera/internal/task"
)

type Options struct {
	Interval time.Duration

	// DedupWindow suppresses re-emission of an identical
	// (campaign, type, goal) tuple inside the window. Zero disables
	// suppression entirely, in which case successive ticks emit
	// duplicate tasks for unchanged goals.
	DedupWindow time.Duration
}

type Planner struct {
	campaigns *state.CampaignStore
	queue     *state.TaskQueue
	strategy  Strategy
	opts      Options

	mu     sync.Mutex
	recent map[string]time.Time
}

func New(campaigns *state.CampaignStore, queue *state.TaskQueue, strategy Strategy, opts Options) *Planner {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if strategy == nil {
		strategy = KeywordStrategy{}
	}
	return &Planner{
		campaigns: campaigns,
		queue:     queue,
		strategy:  strategy,
		opts:      opts,
		recent:    make(map[string]time.Time),
	}
}

// Tick runs one planning pass. A missing or non-active campaign is a
// no-op. Each tick is independent; re-running it against unchanged
// goals re-enqueues the same work unless a dedup window is set.
func (p *Planner) Tick(ctx context.Context, campaignID string) (int, error) {
	ctx, span := observability.StartSpan(ctx, "planner.tick",
		attribute.String("campaign.id", campaignID))
	defer span.End()

	c, ok, err := p.campaigns.Get(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if !ok || c.Status != state.CampaignActive {
		return 0, nil
	}

	tenant := p.campaigns.Keyspace().Tenant()
	enqueued := 0
	for _, goal := range c.Goals {
		for _, t := range p.strategy.Decompose(goal, campaignID) {
			if p.suppressed(campaignID, t) {
				observability.Default.IncCounter("planner_tasks_deduped_total",
					map[string]string{"tenant": tenant}, 1)
				continue
			}
			t.Tenant = tenant
			t.StateVersion = c.Version
			if err := p.queue.Enqueue(ctx, t); err != nil {
				return enqueued, err
			}
			enqueued++
		}
	}
	observability.Default.IncCounter("planner_ticks_total",
		map[string]string{"tenant": tenant}, 1)
	return enqueued, nil
}

// suppressed checks and refreshes the dedup window for one task tuple.
// Expired entries are swept on each call so the map stays bounded by
// the set of tuples seen inside one window.
func (p *Planner) suppressed(campaignID string, t task.Task) bool {
	if p.opts.DedupWindow <= 0 {
		return false
	}
	key := campaignID + "|" + string(t.Type) + "|" + t.GoalDescription
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, last := range p.recent {
		if now.Sub(last) >= p.opts.DedupWindow {
			delete(p.recent, k)
		}
	}
	if last, seen := p.recent[key]; seen && now.Sub(last) < p.opts.DedupWindow {
		return true
	}
	p.recent[key] = now
	return false
}

// Run ticks until the context is canceled. Errors are logged and the
// loop continues; a broken store never terminates planning.
func (p *Planner) Run(ctx context.Context, campaignID string) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Tick(ctx, campaignID); err != nil {
				log.Printf("planner tick failed campaign=%s: %v", campaignID, err)
				observability.Default.IncCounter("planner_tick_errors_total", nil, 1)
			}
		}
	}
}
