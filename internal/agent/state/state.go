// Package state defines the conversation record shared by supervisors and
// workers within a thread.
package state

import (
	"encoding/json"
	"time"
)

// Role is the author class of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is one entry in a conversation. Originator names the agent that
// produced it (for example "problems_fetcher"); it is empty for user input.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Originator string     `json:"originator,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// UserMessage builds a user-authored message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: time.Now().UTC()}
}

// AgentMessage builds an assistant message attributed to originator.
func AgentMessage(originator, content string) Message {
	return Message{Role: RoleAssistant, Originator: originator, Content: content, CreatedAt: time.Now().UTC()}
}

// ConversationState is the append-only message log of one thread plus the
// pending routing decision. Messages are never edited or removed.
type ConversationState struct {
	ThreadID  string    `json:"thread_id"`
	Messages  []Message `json:"messages"`
	Next      string    `json:"next,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(threadID string) *ConversationState {
	return &ConversationState{ThreadID: threadID, UpdatedAt: time.Now().UTC()}
}

// Append adds messages at the end of the log.
func (s *ConversationState) Append(msgs ...Message) {
	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		s.Messages = append(s.Messages, m)
	}
	s.UpdatedAt = time.Now().UTC()
}

func (s *ConversationState) SetNext(next string) {
	s.Next = next
	s.UpdatedAt = time.Now().UTC()
}

func (s *ConversationState) Len() int {
	return len(s.Messages)
}

// Last returns the final message, if any.
func (s *ConversationState) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastFrom returns the most recent message attributed to originator.
func (s *ConversationState) LastFrom(originator string) (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Originator == originator {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// LastUser returns the most recent user message.
func (s *ConversationState) LastUser() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// Since returns the messages appended after the first n.
func (s *ConversationState) Since(n int) []Message {
	if n >= len(s.Messages) {
		return nil
	}
	out := make([]Message, len(s.Messages)-n)
	copy(out, s.Messages[n:])
	return out
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		if len(m.ToolCalls) > 0 {
			calls := make([]ToolCall, len(m.ToolCalls))
			copy(calls, m.ToolCalls)
			m.ToolCalls = calls
		}
		c.Messages[i] = m
	}
	return &c
}
