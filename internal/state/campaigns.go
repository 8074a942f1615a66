package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/amin3ltd/project-chimera/internal/observability"
	"github.com/amin3ltd/project-chimera/internal/tenancy"
)

// CampaignStore wraps a StateStore with the tenant keyspace and the
// campaign commit protocol. It performs no retries itself; retry policy
// belongs to callers.
type CampaignStore struct {
	ss StateStore
	ks tenancy.Keyspace
}

func NewCampaignStore(ss StateStore, ks tenancy.Keyspace) *CampaignStore {
	return &CampaignStore{ss: ss, ks: ks}
}

func (s *CampaignStore) Keyspace() tenancy.Keyspace { return s.ks }

func (s *CampaignStore) Get(ctx context.Context, campaignID string) (Campaign, bool, error) {
	payload, version, ok, err := s.ss.GetState(ctx, s.ks.CampaignKey(campaignID))
	if err != nil || !ok {
		return Campaign{}, false, err
	}
	var c Campaign
	if err := json.Unmarshal(payload, &c); err != nil {
		return Campaign{}, false, fmt.Errorf("decode campaign %s: %w", campaignID, err)
	}
	c.Version = version
	return c, true, nil
}

// Init seeds a campaign at version 1. It fails if the campaign already
// exists; existing state is only changed through CompareAndSet.
func (s *CampaignStore) Init(ctx context.Context, c Campaign) (CommitResult, error) {
	if c.CampaignID == "" {
		return CommitResult{}, fmt.Errorf("campaign has no id")
	}
	if c.Status == "" {
		c.Status = CampaignActive
	}
	c.Tenant = s.ks.Tenant()
	return s.CompareAndSet(ctx, 0, c)
}

// CompareAndSet attempts the commit protocol: the write applies only if
// the stored version still equals expectedVersion. On conflict the
// returned CommitResult carries the authoritative current version and
// OK=false; that is a first-class outcome, not an error.
func (s *CampaignStore) CompareAndSet(ctx context.Context, expectedVersion int64, c Campaign) (CommitResult, error) {
	ctx, span := observability.StartSpan(ctx, "state.commit",
		attribute.String("campaign.id", c.CampaignID),
		attribute.Int64("state.expected_version", expectedVersion),
	)
	defer span.End()

	c.UpdatedAt = time.Now().UTC()
	c.Tenant = s.ks.Tenant()
	payload, err := json.Marshal(c)
	if err != nil {
		return CommitResult{}, fmt.Errorf("encode campaign %s: %w", c.CampaignID, err)
	}
	ok, current, err := s.ss.CompareAndSetState(ctx, s.ks.CampaignKey(c.CampaignID), expectedVersion, payload)
	if err != nil {
		return CommitResult{}, err
	}
	if !ok {
		observability.Default.IncCounter("state_commit_conflicts_total",
			map[string]string{"tenant": s.ks.Tenant()}, 1)
		return CommitResult{
			OK:           false,
			StateVersion: current,
			Message:      fmt.Sprintf("version conflict: expected %d, current %d", expectedVersion, current),
		}, nil
	}
	observability.Default.IncCounter("state_commits_total",
		map[string]string{"tenant": s.ks.Tenant()}, 1)
	return CommitResult{OK: true, StateVersion: current, Message: "committed"}, nil
}

// ActiveGoals returns the campaign's goals, empty when the campaign is
// missing or not active.
func (s *CampaignStore) ActiveGoals(ctx context.Context, campaignID string) ([]string, int64, error) {
	c, ok, err := s.Get(ctx, campaignID)
	if err != nil || !ok {
		return nil, 0, err
	}
	if c.Status != CampaignActive {
		return nil, c.Version, nil
	}
	return c.Goals, c.Version, nil
}

// PutOutput persists an approved task output under the tenant's output
// record key with a bounded retention TTL.
func (s *CampaignStore) PutOutput(ctx context.Context, taskID string, payload []byte, ttl time.Duration) error {
	return s.ss.PutRecord(ctx, s.ks.OutputKey(taskID), payload, ttl)
}

func (s *CampaignStore) GetOutput(ctx context.Context, taskID string) ([]byte, bool, error) {
	return s.ss.GetRecord(ctx, s.ks.OutputKey(taskID))
}

// RecordHumanDecision stores a manual HITL disposition keyed by task
// id. The record is terminal; nothing in the pipeline consumes it.
func (s *CampaignStore) RecordHumanDecision(ctx context.Context, d HumanDecision, ttl time.Duration) error {
	if d.TaskID == "" {
		return fmt.Errorf("human decision has no task id")
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	observability.Default.IncCounter("human_decisions_total",
		map[string]string{"tenant": s.ks.Tenant(), "verdict": d.Verdict}, 1)
	return s.ss.PutRecord(ctx, s.ks.HumanDecisionKey(d.TaskID), payload, ttl)
}

func (s *CampaignStore) GetHumanDecision(ctx context.Context, taskID string) (HumanDecision, bool, error) {
	payload, ok, err := s.ss.GetRecord(ctx, s.ks.HumanDecisionKey(taskID))
	if err != nil || !ok {
		return HumanDecision{}, false, err
	}
	var d HumanDecision
	if err := json.Unmarshal(payload, &d); err != nil {
		return HumanDecision{}, false, err
	}
	return d, true, nil
}

// AddSpend charges an agent's budget counter and returns the running
// total for the caller's cap check.
func (s *CampaignStore) AddSpend(ctx context.Context, agentID string, amount float64) (float64, error) {
	return s.ss.IncrementBy(ctx, s.ks.BudgetKey(agentID), amount)
}

func (s *CampaignStore) Spend(ctx context.Context, agentID string) (float64, error) {
	return s.ss.IncrementBy(ctx, s.ks.BudgetKey(agentID), 0)
}
