package commands

import (
	"fmt"
	"strings"
	"time"
)

func init() {
	DefaultRegistry.Register(&StatsHandler{})
}

// StatsHandler implements the /stats command.
type StatsHandler struct{}

func (h *StatsHandler) Entry() Entry {
	return Entry{
		Name:        "stats",
		Description: "Show session statistics",
		Usage:       "/stats",
	}
}

func (h *StatsHandler) Execute(ctx *Context, args []string) Result {
	var msg strings.Builder
	msg.WriteString("Session Statistics:\n\n")
	msg.WriteString(fmt.Sprintf("  Thread:          %s\n", ctx.ThreadID))
	msg.WriteString(fmt.Sprintf("  Model:           %s\n", ctx.Model))
	msg.WriteString(fmt.Sprintf("  Turns:           %d\n", ctx.Stats.Turns))
	msg.WriteString(fmt.Sprintf("  Failed turns:    %d\n", ctx.Stats.Errors))
	msg.WriteString(fmt.Sprintf("  Messages:        %d\n", ctx.Stats.Messages))
	msg.WriteString(fmt.Sprintf("  Supervisor hops: %d\n", ctx.Stats.Hops))
	if !ctx.Stats.Started.IsZero() {
		msg.WriteString(fmt.Sprintf("  Uptime:          %s\n", time.Since(ctx.Stats.Started).Round(time.Second)))
	}
	return info(msg.String())
}

// summary is the one-line session total printed on /quit.
func summary(s Stats) string {
	if s.Turns == 0 && s.Errors == 0 {
		return ""
	}
	return fmt.Sprintf("%d turns, %d failed, %d supervisor hops.\n", s.Turns, s.Errors, s.Hops)
}
