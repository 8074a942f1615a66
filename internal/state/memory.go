package state

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	payload  []byte
	priority int
	seq      uint64
}

// MemoryQueueStore is the in-process queue backend used by tests and
// single-process runs. All operations hold one mutex, which makes every
// pop trivially atomic.
type MemoryQueueStore struct {
	mu     sync.Mutex
	ranked map[string][]memoryItem
	lists  map[string][][]byte
	seq    uint64
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{
		ranked: make(map[string][]memoryItem),
		lists:  make(map[string][][]byte),
	}
}

func (m *MemoryQueueStore) Enqueue(_ context.Context, key string, payload []byte, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.ranked[key] = append(m.ranked[key], memoryItem{payload: payload, priority: priority, seq: m.seq})
	return nil
}

func (m *MemoryQueueStore) DequeueMax(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.ranked[key]
	if len(items) == 0 {
		return nil, false, nil
	}
	best := 0
	for i := 1; i < len(items); i++ {
		if items[i].priority > items[best].priority {
			best = i
			continue
		}
		if items[i].priority == items[best].priority && items[i].seq < items[best].seq {
			best = i
		}
	}
	out := items[best].payload
	m.ranked[key] = append(items[:best], items[best+1:]...)
	return out, true, nil
}

func (m *MemoryQueueStore) PushList(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], payload)
	return nil
}

func (m *MemoryQueueStore) PopList(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	if len(l) == 0 {
		return nil, false, nil
	}
	out := l[0]
	m.lists[key] = l[1:]
	return out, true, nil
}

func (m *MemoryQueueStore) ListLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

type versionedBlob struct {
	payload []byte
	version int64
}

type expiringBlob struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryStateStore is the in-process state backend. The mutex spans the
// whole compare-and-set, so the version check and write are one atomic
// step.
type MemoryStateStore struct {
	mu       sync.Mutex
	states   map[string]versionedBlob
	records  map[string]expiringBlob
	counters map[string]float64
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		states:   make(map[string]versionedBlob),
		records:  make(map[string]expiringBlob),
		counters: make(map[string]float64),
	}
}

func (m *MemoryStateStore) GetState(_ context.Context, key string) ([]byte, int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.states[key]
	if !ok {
		return nil, 0, false, nil
	}
	out := make([]byte, len(b.payload))
	copy(out, b.payload)
	return out, b.version, true, nil
}

func (m *MemoryStateStore) CompareAndSetState(_ context.Context, key string, expectedVersion int64, payload []byte) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.states[key].version
	if current != expectedVersion {
		return false, current, nil
	}
	stored := make([]byte, len(payload))
	copy(stored, payload)
	next := current + 1
	m.states[key] = versionedBlob{payload: stored, version: next}
	return true, next, nil
}

func (m *MemoryStateStore) PutRecord(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(payload))
	copy(stored, payload)
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().UTC().Add(ttl)
	}
	m.records[key] = expiringBlob{payload: stored, expiresAt: expires}
	return nil
}

func (m *MemoryStateStore) GetRecord(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.records[key]
	if !ok {
		return nil, false, nil
	}
	if !b.expiresAt.IsZero() && time.Now().UTC().After(b.expiresAt) {
		delete(m.records, key)
		return nil, false, nil
	}
	out := make([]byte, len(b.payload))
	copy(out, b.payload)
	return out, true, nil
}

func (m *MemoryStateStore) IncrementBy(_ context.Context, key string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key] += delta
	return m.counters[key], nil
}
