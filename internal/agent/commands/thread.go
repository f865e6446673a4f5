package commands

import (
	"github.com/google/uuid"
)

func init() {
	DefaultRegistry.Register(&ThreadHandler{})
	DefaultRegistry.Register(&ResetHandler{})
}

// ThreadHandler implements the /thread command.
type ThreadHandler struct{}

func (h *ThreadHandler) Entry() Entry {
	return Entry{
		Name:        "thread",
		Description: "Show or switch the conversation thread",
		Usage:       "/thread [id]",
	}
}

func (h *ThreadHandler) Execute(ctx *Context, args []string) Result {
	if len(args) == 0 {
		return info("Current thread: " + ctx.ThreadID)
	}
	if ctx.SetThreadID == nil {
		return failure("Switching threads is not available here")
	}
	ctx.SetThreadID(args[0])
	ctx.ThreadID = args[0]
	return Result{Success: true, Message: "Switched to thread " + args[0]}
}

// ResetHandler implements the /reset command.
type ResetHandler struct{}

func (h *ResetHandler) Entry() Entry {
	return Entry{
		Name:        "reset",
		Aliases:     []string{"new"},
		Description: "Start a new conversation thread",
		Usage:       "/reset",
	}
}

func (h *ResetHandler) Execute(ctx *Context, args []string) Result {
	if ctx.SetThreadID == nil {
		return failure("Resetting is not available here")
	}
	id := uuid.NewString()
	ctx.SetThreadID(id)
	ctx.ThreadID = id
	return Result{Success: true, Message: "Started new thread " + id}
}
