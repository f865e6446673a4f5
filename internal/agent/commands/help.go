package commands

import (
	"fmt"
	"strings"
)

func init() {
	DefaultRegistry.Register(&HelpHandler{registry: DefaultRegistry})
}

// HelpHandler lists the commands of its registry, or describes one.
type HelpHandler struct {
	registry *Registry
}

func (h *HelpHandler) Entry() Entry {
	return Entry{
		Name:        "help",
		Aliases:     []string{"?"},
		Description: "List commands, or describe one",
		Usage:       "/help [command]",
	}
}

func (h *HelpHandler) Execute(ctx *Context, args []string) Result {
	if len(args) > 0 {
		name := strings.TrimPrefix(args[0], "/")
		cmd, ok := h.registry.Lookup(name)
		if !ok {
			return failure("No command matches /" + name)
		}
		e := cmd.Entry()
		var b strings.Builder
		fmt.Fprintf(&b, "%s\n  %s\n", e.Usage, e.Description)
		if len(e.Aliases) > 0 {
			fmt.Fprintf(&b, "  Aliases: /%s\n", strings.Join(e.Aliases, ", /"))
		}
		return info(b.String())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Thread %s on %s\n\n", ctx.ThreadID, ctx.Model)
	for _, e := range h.registry.Entries() {
		fmt.Fprintf(&b, "  %-18s %s\n", e.Usage, e.Description)
	}
	b.WriteString("\nCommands may be shortened to a unique prefix, e.g. /hist.\n")
	b.WriteString("An empty line, quit, exit or q leaves the chat.\n")
	return info(b.String())
}
