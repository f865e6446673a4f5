package commands

import (
	"fmt"
	"strings"

	"github.com/moolen/lookout/internal/agent/state"
)

func init() {
	DefaultRegistry.Register(&HistoryHandler{})
}

// historyPreview caps each message in the /history listing.
const historyPreview = 200

// HistoryHandler implements the /history command.
type HistoryHandler struct{}

func (h *HistoryHandler) Entry() Entry {
	return Entry{
		Name:        "history",
		Description: "Show the messages of the current thread",
		Usage:       "/history",
	}
}

func (h *HistoryHandler) Execute(ctx *Context, args []string) Result {
	if ctx.History == nil {
		return failure("History is not available here")
	}
	msgs, err := ctx.History()
	if err != nil {
		return failure("Failed to load history: " + err.Error())
	}
	if len(msgs) == 0 {
		return info("Thread " + ctx.ThreadID + " has no messages yet")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Thread %s (%d messages):\n\n", ctx.ThreadID, len(msgs))
	for i, m := range msgs {
		who := "user"
		if m.Role != state.RoleUser {
			who = m.Originator
		}
		content := strings.Join(strings.Fields(m.Content), " ")
		if len(content) > historyPreview {
			content = content[:historyPreview] + "..."
		}
		fmt.Fprintf(&b, "  %2d. [%s] %s\n", i+1, who, content)
	}
	return info(b.String())
}
