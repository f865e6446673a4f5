package worker

import (
	"fmt"
	"strings"

	"github.com/moolen/lookout/internal/agent/provider"
	"github.com/moolen/lookout/internal/agent/state"
)

// Transcript renders conversation history as provider messages. Output of
// other agents is input from the caller's point of view, so it is sent as
// user content labelled with the originator; only messages from self are
// replayed as assistant turns. Consecutive messages with the same role are
// merged since providers expect alternating turns.
func Transcript(history []state.Message, self string) []provider.Message {
	var out []provider.Message
	for _, m := range history {
		if m.Role == state.RoleTool || strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := provider.RoleUser
		content := m.Content
		switch {
		case m.Role == state.RoleAssistant && self != "" && m.Originator == self:
			role = provider.RoleAssistant
		case m.Role == state.RoleAssistant && m.Originator != "":
			content = fmt.Sprintf("[%s]:\n%s", m.Originator, m.Content)
		}

		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + content
			continue
		}
		out = append(out, provider.Message{Role: role, Content: content})
	}
	if len(out) > 0 && out[0].Role != provider.RoleUser {
		out = append([]provider.Message{{Role: provider.RoleUser, Content: "(conversation continues)"}}, out...)
	}
	return out
}
