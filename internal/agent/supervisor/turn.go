package supervisor

import (
	"fmt"

	"github.com/moolen/lookout/internal/agent/state"
)

// DefaultMaxHops matches the default recursion limit of one user turn.
const DefaultMaxHops = 50

// HopBudget counts supervisor steps across both levels of one user turn.
// A turn runs sequentially, so it needs no locking.
type HopBudget struct {
	max  int
	used int
}

func NewHopBudget(max int) *HopBudget {
	if max <= 0 {
		max = DefaultMaxHops
	}
	return &HopBudget{max: max}
}

// Take consumes one hop and fails once the budget is exceeded.
func (b *HopBudget) Take() error {
	b.used++
	if b.used > b.max {
		return fmt.Errorf("%w: more than %d supervisor hops in one turn", ErrRecursionLimit, b.max)
	}
	return nil
}

func (b *HopBudget) Used() int { return b.used }

func (b *HopBudget) Max() int { return b.max }

// Observer receives progress while a turn runs. Nil funcs are skipped.
type Observer struct {
	// OnDecision is called for every routing decision at either level.
	OnDecision func(supervisor string, d Decision)
	// OnMessage is called for every message appended to the thread.
	OnMessage func(msg state.Message)
	// OnWorkerMessage is called for messages that stay inside a team.
	OnWorkerMessage func(team string, msg state.Message)
	// OnError is called for errors absorbed by a forced FINISH.
	OnError func(supervisor string, err error)
}

func (o Observer) decision(supervisor string, d Decision) {
	if o.OnDecision != nil {
		o.OnDecision(supervisor, d)
	}
}

func (o Observer) message(msg state.Message) {
	if o.OnMessage != nil {
		o.OnMessage(msg)
	}
}

func (o Observer) workerMessage(team string, msg state.Message) {
	if o.OnWorkerMessage != nil {
		o.OnWorkerMessage(team, msg)
	}
}

func (o Observer) failed(supervisor string, err error) {
	if o.OnError != nil {
		o.OnError(supervisor, err)
	}
}

// Turn carries the per-turn context shared by both supervision levels.
type Turn struct {
	ThreadID string
	Hops     *HopBudget
	Observer Observer
}

func NewTurn(threadID string, maxHops int, obs Observer) *Turn {
	return &Turn{ThreadID: threadID, Hops: NewHopBudget(maxHops), Observer: obs}
}
