// Package state holds the queue and state-store wire contracts plus the
// memory, redis, and sqlite backends implementing them. Campaign-level
// wrappers in this package are the only consumers of the raw contracts;
// services never touch backend keys directly.
package state

import (
	"context"
	"time"
)

// QueueStore is the shared queue fabric. Keys are tenant-scoped by the
// caller. Implementations must guarantee:
//   - DequeueMax pops atomically: one enqueued payload is returned by
//     exactly one successful DequeueMax across concurrent callers.
//   - Within a priority band delivery is FIFO; across bands a higher
//     priority always pops first.
//   - PopList is an atomic pop as well.
type QueueStore interface {
	Enqueue(ctx context.Context, key string, payload []byte, priority int) error
	DequeueMax(ctx context.Context, key string) ([]byte, bool, error)
	PushList(ctx context.Context, key string, payload []byte) error
	PopList(ctx context.Context, key string) ([]byte, bool, error)
	ListLen(ctx context.Context, key string) (int64, error)
}

// StateStore is the versioned record fabric. CompareAndSetState must be
// a single atomic compare-and-set: no read-modify-write window between
// the version comparison and the write. A missing key reads as version
// 0, so an initial write carries expectedVersion 0.
type StateStore interface {
	GetState(ctx context.Context, key string) (payload []byte, version int64, ok bool, err error)
	CompareAndSetState(ctx context.Context, key string, expectedVersion int64, payload []byte) (ok bool, currentVersion int64, err error)

	// PutRecord stores a TTL-bounded blob (task outputs, human
	// decisions). A ttl of zero keeps the record indefinitely.
	PutRecord(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	GetRecord(ctx context.Context, key string) ([]byte, bool, error)

	// IncrementBy adjusts a numeric counter (budget spend) and returns
	// the new total.
	IncrementBy(ctx context.Context, key string, delta float64) (float64, error)
}

// Campaign is the per-campaign shared state. Version is stamped by the
// store on read; writes go through the campaign CAS protocol only.
type Campaign struct {
	CampaignID  string    `json:"campaign_id"`
	Goals       []string  `json:"goals"`
	BudgetLimit float64   `json:"budget_limit"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
	Tenant      string    `json:"tenant"`
	Version     int64     `json:"-"`
}

const (
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
)

// CommitResult reports one commit attempt. On conflict StateVersion
// carries the authoritative current version so the caller can re-read
// and retry; it is never persisted.
type CommitResult struct {
	OK           bool   `json:"success"`
	StateVersion int64  `json:"state_version"`
	Message      string `json:"message,omitempty"`
}

// HumanDecision is the terminal record of a manual HITL disposition.
type HumanDecision struct {
	TaskID    string    `json:"task_id"`
	Reviewer  string    `json:"reviewer"`
	Verdict   string    `json:"verdict"`
	Note      string    `json:"note,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}
