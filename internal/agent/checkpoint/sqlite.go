package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/moolen/lookout/internal/agent/state"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id  TEXT PRIMARY KEY,
	next       TEXT NOT NULL DEFAULT '',
	messages   TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore persists checkpoints in a single SQLite file so threads can be
// resumed across processes.
type SQLiteStore struct {
	db    *sql.DB
	locks *KeyedMutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite checkpoint path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db, locks: NewKeyedMutex()}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*state.ConversationState, error) {
	var (
		next      string
		raw       string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT next, messages, updated_at FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&next, &raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", threadID, err)
	}

	cs := &state.ConversationState{ThreadID: threadID, Next: next, UpdatedAt: time.Unix(0, updatedAt).UTC()}
	if err := json.Unmarshal([]byte(raw), &cs.Messages); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint %s: %w", threadID, err)
	}
	return cs, nil
}

func (s *SQLiteStore) Save(ctx context.Context, cs *state.ConversationState) error {
	unlock := s.locks.Lock(cs.ThreadID)
	defer unlock()
	return s.save(ctx, cs)
}

func (s *SQLiteStore) save(ctx context.Context, cs *state.ConversationState) error {
	raw, err := json.Marshal(cs.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, next, messages, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			next = excluded.next,
			messages = excluded.messages,
			updated_at = excluded.updated_at`,
		cs.ThreadID, cs.Next, string(raw), cs.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", cs.ThreadID, err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, threadID string, fn func(*state.ConversationState) error) (*state.ConversationState, error) {
	return update(ctx, s.locks, threadID, s.Load, s.save, fn)
}

func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	unlock := s.locks.Lock(threadID)
	defer unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
