package thread

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps threads in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Step
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]Step)}
}

func (m *MemoryStore) Load(ctx context.Context, threadID string) ([]Step, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	steps := make([]Step, len(m.threads[threadID]))
	copy(steps, m.threads[threadID])
	return steps, nil
}

func (m *MemoryStore) Append(ctx context.Context, threadID string, step Step) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}
	step, err := prepareStep(step)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.threads[threadID] = append(m.threads[threadID], step)
	return nil
}

func (m *MemoryStore) Pending(ctx context.Context, threadID string) ([]ActionRequest, error) {
	state, err := LoadState(ctx, m, threadID)
	if err != nil {
		return nil, err
	}
	return state.Pending, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.threads))
	for id := range m.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Delete(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
