// Package checkpoint persists conversation state per thread. Writes for the
// same thread are serialized; different threads proceed independently.
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/moolen/lookout/internal/agent/state"
)

// ErrNotFound is returned by Load for an unknown thread.
var ErrNotFound = errors.New("checkpoint not found")

// Store saves and restores ConversationState keyed by thread id.
type Store interface {
	Load(ctx context.Context, threadID string) (*state.ConversationState, error)
	Save(ctx context.Context, s *state.ConversationState) error
	// Update runs fn on the current state (a fresh one when absent) and
	// saves the result, holding the thread's lock throughout.
	Update(ctx context.Context, threadID string, fn func(*state.ConversationState) error) (*state.ConversationState, error)
	Delete(ctx context.Context, threadID string) error
	Close() error
}

// Config selects a backend.
type Config struct {
	Backend string // memory or sqlite
	Path    string
}

// Open returns the store for cfg.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// update implements Store.Update over a backend's unlocked load and save.
func update(ctx context.Context, locks *KeyedMutex, threadID string,
	load func(context.Context, string) (*state.ConversationState, error),
	save func(context.Context, *state.ConversationState) error,
	fn func(*state.ConversationState) error,
) (*state.ConversationState, error) {
	unlock := locks.Lock(threadID)
	defer unlock()

	current, err := load(ctx, threadID)
	if errors.Is(err, ErrNotFound) {
		current = state.New(threadID)
	} else if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, err
	}
	if err := save(ctx, current); err != nil {
		return nil, err
	}
	return current.Clone(), nil
}
