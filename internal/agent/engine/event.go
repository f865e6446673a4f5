package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/moolen/lookout/internal/agent/state"
)

// Kind tags an Event.
type Kind string

const (
	KindWorkerMessage   Kind = "worker_message"
	KindRoutingDecision Kind = "routing_decision"
	KindError           Kind = "error"
	KindTurnComplete    Kind = "turn_complete"
)

// WorkerMessage is a message appended to the thread during the turn.
type WorkerMessage struct {
	Originator string    `json:"originator"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// RoutingDecision is a routing step taken by any supervisor.
type RoutingDecision struct {
	Supervisor   string `json:"supervisor"`
	Next         string `json:"next"`
	FinalMessage string `json:"final_message,omitempty"`
}

// ErrorInfo describes a failure that ended the turn or blocked its input.
type ErrorInfo struct {
	Message string `json:"message"`
	// Code is blocked, recursion_limit, canceled or internal.
	Code string `json:"code"`
	Err  error  `json:"-"`
}

// TurnComplete closes a successful turn.
type TurnComplete struct {
	Final      string        `json:"final"`
	Teams      []string      `json:"teams,omitempty"`
	Appended   int           `json:"appended"`
	Hops       int           `json:"hops"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
}

// Event is one item of a turn's stream. Exactly one payload is set.
type Event struct {
	ThreadID string
	Time     time.Time

	WorkerMessage   *WorkerMessage
	RoutingDecision *RoutingDecision
	Error           *ErrorInfo
	TurnComplete    *TurnComplete
}

// Kind returns the tag of the set payload, or "" for a zero Event.
func (e Event) Kind() Kind {
	switch {
	case e.WorkerMessage != nil:
		return KindWorkerMessage
	case e.RoutingDecision != nil:
		return KindRoutingDecision
	case e.Error != nil:
		return KindError
	case e.TurnComplete != nil:
		return KindTurnComplete
	}
	return ""
}

// MarshalJSON renders {"kind": ..., "thread_id": ..., "<kind>": payload}.
func (e Event) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"kind":      e.Kind(),
		"thread_id": e.ThreadID,
		"time":      e.Time,
	}
	switch e.Kind() {
	case KindWorkerMessage:
		out[string(KindWorkerMessage)] = e.WorkerMessage
	case KindRoutingDecision:
		out[string(KindRoutingDecision)] = e.RoutingDecision
	case KindError:
		out[string(KindError)] = e.Error
	case KindTurnComplete:
		out[string(KindTurnComplete)] = e.TurnComplete
	}
	return json.Marshal(out)
}

// String renders the event for logs and the CLI.
func (e Event) String() string {
	switch e.Kind() {
	case KindWorkerMessage:
		return fmt.Sprintf("[%s] %s", e.WorkerMessage.Originator, e.WorkerMessage.Content)
	case KindRoutingDecision:
		return fmt.Sprintf("%s -> %s", e.RoutingDecision.Supervisor, e.RoutingDecision.Next)
	case KindError:
		return "error: " + e.Error.Message
	case KindTurnComplete:
		return fmt.Sprintf("turn complete (%d messages, %d hops)", e.TurnComplete.Appended, e.TurnComplete.Hops)
	}
	return ""
}

func newWorkerMessage(threadID string, m state.Message) Event {
	return Event{ThreadID: threadID, Time: time.Now().UTC(), WorkerMessage: &WorkerMessage{
		Originator: m.Originator,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}}
}

func newRoutingDecision(threadID, supervisor, next, final string) Event {
	return Event{ThreadID: threadID, Time: time.Now().UTC(), RoutingDecision: &RoutingDecision{
		Supervisor:   supervisor,
		Next:         next,
		FinalMessage: final,
	}}
}

func newError(threadID, code string, err error) Event {
	return Event{ThreadID: threadID, Time: time.Now().UTC(), Error: &ErrorInfo{
		Message: err.Error(),
		Code:    code,
		Err:     err,
	}}
}
