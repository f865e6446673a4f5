package api

import (
	"context"

	"github.com/moolen/lookout/internal/agent/engine"
	"github.com/moolen/lookout/internal/agent/state"
)

// Chatter is the conversation surface the handlers need. chatbot.Service
// implements it.
type Chatter interface {
	Chat(ctx context.Context, threadID, text string) (<-chan engine.Event, error)
	History(ctx context.Context, threadID string) ([]state.Message, error)
}
