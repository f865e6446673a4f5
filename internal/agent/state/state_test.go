package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendKeepsOrder(t *testing.T) {
	s := New("t1")
	s.Append(UserMessage("show problems"))
	s.Append(AgentMessage("problems_fetcher", "2 open problems"), AgentMessage("problems_analyst", "restart pod"))

	require.Equal(t, 3, s.Len())
	assert.Equal(t, RoleUser, s.Messages[0].Role)
	assert.Equal(t, "problems_fetcher", s.Messages[1].Originator)
	assert.Equal(t, "problems_analyst", s.Messages[2].Originator)
	assert.False(t, s.Messages[2].CreatedAt.IsZero())
}

func TestLookups(t *testing.T) {
	s := New("t1")
	_, ok := s.Last()
	assert.False(t, ok)

	s.Append(UserMessage("first"))
	s.Append(AgentMessage("telemetry_fetcher", "a"))
	s.Append(UserMessage("second"))
	s.Append(AgentMessage("telemetry_fetcher", "b"))

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, "b", last.Content)

	user, ok := s.LastUser()
	require.True(t, ok)
	assert.Equal(t, "second", user.Content)

	fetched, ok := s.LastFrom("telemetry_fetcher")
	require.True(t, ok)
	assert.Equal(t, "b", fetched.Content)

	_, ok = s.LastFrom("telemetry_analyst")
	assert.False(t, ok)

	assert.Len(t, s.Since(2), 2)
	assert.Nil(t, s.Since(10))
}

func TestCloneIsIndependent(t *testing.T) {
	s := New("t1")
	s.Append(Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "list_problems"}}})

	c := s.Clone()
	c.Append(UserMessage("more"))
	c.Messages[0].ToolCalls[0].Name = "changed"
	c.SetNext("FINISH")

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "list_problems", s.Messages[0].ToolCalls[0].Name)
	assert.Empty(t, s.Next)
}
