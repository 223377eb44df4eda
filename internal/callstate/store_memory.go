package callstate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local runs.
// It enforces the same versioning discipline as the Postgres store.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]*CallState
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]*CallState), clock: time.Now}
}

// SetClock injects a deterministic clock for tests.
func (m *MemoryStore) SetClock(fn func() time.Time) { m.clock = fn }

func (m *MemoryStore) Create(ctx context.Context, s *CallState) (*CallState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.calls[s.CallID]; ok {
		return nil, ErrVersionConflict
	}
	now := m.clock().UTC()
	stored := s.Clone()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.calls[s.CallID] = stored
	return stored.Clone(), nil
}

func (m *MemoryStore) Load(ctx context.Context, callID string) (*CallState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, callID string, expectedVersion int64, fn Mutator) (*CallState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	next := s.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = m.clock().UTC()
	m.calls[callID] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]*CallState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*CallState
	for _, s := range m.calls {
		if s.ArchivedAt == nil {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
