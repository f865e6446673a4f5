package commands

func init() {
	DefaultRegistry.Register(&QuitHandler{})
}

// QuitHandler ends the chat after printing the session totals.
type QuitHandler struct{}

func (h *QuitHandler) Entry() Entry {
	return Entry{
		Name:        "quit",
		Aliases:     []string{"exit", "q"},
		Description: "Leave the chat",
		Usage:       "/quit",
	}
}

func (h *QuitHandler) Execute(ctx *Context, args []string) Result {
	if ctx.QuitFunc == nil {
		return failure("Nothing to quit here")
	}
	ctx.QuitFunc()
	return info(summary(ctx.Stats) + "Goodbye!")
}
