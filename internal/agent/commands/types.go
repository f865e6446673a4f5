// Package commands implements the slash commands of the interactive chat.
package commands

import (
	"time"

	"github.com/moolen/lookout/internal/agent/state"
)

// Command is a parsed slash command.
type Command struct {
	Name string
	Args []string
}

// Result is what the chat prints after a command.
type Result struct {
	Success bool
	Message string
	// IsInfo marks listings as opposed to state changes.
	IsInfo bool
}

// Entry describes a command for /help and name resolution.
type Entry struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
}

// Stats are the counters of the current chat session.
type Stats struct {
	Started  time.Time
	Turns    int
	Errors   int
	Messages int
	Hops     int
}

// Context gives handlers access to the chat session. Nil funcs make the
// matching commands report that they are unavailable.
type Context struct {
	ThreadID string
	Model    string
	Stats    Stats

	SetThreadID func(id string)
	SetModel    func(model string) error
	History     func() ([]state.Message, error)
	QuitFunc    func()
}

// Handler runs one command. Handlers may update ctx fields so that later
// output in the same call sees the change.
type Handler interface {
	Entry() Entry
	Execute(ctx *Context, args []string) Result
}

func info(msg string) Result {
	return Result{Success: true, Message: msg, IsInfo: true}
}

func failure(msg string) Result {
	return Result{Success: false, Message: msg, IsInfo: true}
}
