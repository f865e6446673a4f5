package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/moolen/lookout/internal/agent/commands"
	"github.com/moolen/lookout/internal/agent/engine"
	"github.com/moolen/lookout/internal/agent/state"
)

const maxLineBytes = 1 << 20

// exitWords end the chat, as does an empty line.
var exitWords = map[string]bool{"quit": true, "exit": true, "q": true}

// REPL is the line-oriented interactive chat.
type REPL struct {
	runner *Runner
	in     io.Reader
	out    io.Writer

	threadID string
	stats    commands.Stats
	quit     bool
}

// NewREPL returns a chat on threadID. A new thread is started when threadID
// is empty.
func (r *Runner) NewREPL(in io.Reader, out io.Writer, threadID string) *REPL {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	return &REPL{
		runner:   r,
		in:       in,
		out:      out,
		threadID: threadID,
		stats:    commands.Stats{Started: time.Now()},
	}
}

func (c *REPL) ThreadID() string { return c.threadID }

func (c *REPL) Stats() commands.Stats { return c.stats }

// Run reads lines until EOF, an exit word, an empty line, /quit or ctx is
// done. Turn errors are printed and the chat continues.
func (c *REPL) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	fmt.Fprintf(c.out, "Thread %s on %s. Type /help for commands.\n", c.threadID, c.runner.chat.Model())
	for !c.quit {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(c.out, "User: ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || exitWords[strings.ToLower(line)] {
			fmt.Fprintln(c.out, "Goodbye!")
			return nil
		}

		if cmd := commands.ParseCommand(line); cmd != nil {
			res := commands.DefaultRegistry.Execute(c.commandContext(ctx), cmd)
			fmt.Fprintln(c.out, res.Message)
			continue
		}
		c.turn(ctx, line)
	}
	return nil
}

func (c *REPL) turn(ctx context.Context, text string) {
	events, err := c.runner.chat.Chat(ctx, c.threadID, text)
	if err != nil {
		c.stats.Errors++
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}

	for ev := range events {
		switch ev.Kind() {
		case engine.KindRoutingDecision:
			fmt.Fprintf(c.out, "  %s\n", ev)
		case engine.KindWorkerMessage:
			fmt.Fprintf(c.out, "-----\n%s:\n%s\n", ev.WorkerMessage.Originator, ev.WorkerMessage.Content)
		case engine.KindError:
			c.stats.Errors++
			fmt.Fprintf(c.out, "Error (%s): %s\n", ev.Error.Code, ev.Error.Message)
		case engine.KindTurnComplete:
			c.stats.Turns++
			c.stats.Messages += ev.TurnComplete.Appended
			c.stats.Hops += ev.TurnComplete.Hops
		}
	}
}

func (c *REPL) commandContext(ctx context.Context) *commands.Context {
	return &commands.Context{
		ThreadID:    c.threadID,
		Model:       c.runner.chat.Model(),
		Stats:       c.stats,
		SetThreadID: func(id string) { c.threadID = id },
		SetModel:    c.runner.SetModel,
		History: func() ([]state.Message, error) {
			return c.runner.chat.History(ctx, c.threadID)
		},
		QuitFunc: func() { c.quit = true },
	}
}
