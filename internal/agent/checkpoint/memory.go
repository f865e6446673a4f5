package checkpoint

import (
	"context"
	"sync"

	"github.com/moolen/lookout/internal/agent/state"
)

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	locks *KeyedMutex

	mu      sync.RWMutex
	threads map[string]*state.ConversationState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:   NewKeyedMutex(),
		threads: make(map[string]*state.ConversationState),
	}
}

func (m *MemoryStore) Load(ctx context.Context, threadID string) (*state.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *state.ConversationState) error {
	unlock := m.locks.Lock(s.ThreadID)
	defer unlock()
	return m.save(ctx, s)
}

func (m *MemoryStore) save(ctx context.Context, s *state.ConversationState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[s.ThreadID] = s.Clone()
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, threadID string, fn func(*state.ConversationState) error) (*state.ConversationState, error) {
	return update(ctx, m.locks, threadID, m.Load, m.save, fn)
}

func (m *MemoryStore) Delete(ctx context.Context, threadID string) error {
	unlock := m.locks.Lock(threadID)
	defer unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
