package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/moolen/lookout/internal/agent/provider"
	"github.com/moolen/lookout/internal/agent/state"
	"github.com/moolen/lookout/internal/logging"
	"github.com/moolen/lookout/internal/tracing"
)

// TopSupervisorName is the originator of messages written by the top level.
const TopSupervisorName = "supervisor"

// Clarification is the reply when no team was consulted and the model gave
// no final message.
const Clarification = "I can look into telemetry (logs, metrics, traces), open problems, security " +
	"vulnerabilities and DevOps health such as deployments and SLOs. Which entity and timeframe " +
	"should I check?"

// NoResponse is the reply prefix when the routing model could not be reached
// and no team has answered.
const NoResponse = "No response from supervisor: "

// TurnResult is the outcome of one user turn at the top level.
type TurnResult struct {
	// Messages are appended to the thread in order.
	Messages []state.Message
	// Final is the reply shown to the user.
	Final string
	// Teams lists the teams consulted, in order.
	Teams []string
	// Next is the last top-level routing decision, always FINISH once
	// the turn completed.
	Next string
}

// TopSupervisor consults domain teams one at a time, each at most once per
// turn, and composes the reply.
type TopSupervisor struct {
	prompt          string
	synthesisPrompt string
	teams           []*DomainSupervisor
	router          *Router
	provider        provider.Provider
	logger          *logging.Logger
}

func NewTopSupervisor(prompt, synthesisPrompt string, teams []*DomainSupervisor, router *Router, p provider.Provider) *TopSupervisor {
	return &TopSupervisor{
		prompt:          prompt,
		synthesisPrompt: synthesisPrompt,
		teams:           teams,
		router:          router,
		provider:        p,
		logger:          logging.GetLogger("supervisor").WithField("team", TopSupervisorName),
	}
}

// TeamNames returns the routable team names in catalog order.
func (s *TopSupervisor) TeamNames() []string {
	names := make([]string, len(s.teams))
	for i, t := range s.teams {
		names[i] = t.Team().Name
	}
	return names
}

func (s *TopSupervisor) team(name string) *DomainSupervisor {
	for _, t := range s.teams {
		if t.Team().Name == name {
			return t
		}
	}
	return nil
}

// Run handles the latest user message in history. The returned messages are
// not yet part of history; the caller appends them.
func (s *TopSupervisor) Run(ctx context.Context, turn *Turn, history []state.Message) (res *TurnResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "supervisor.turn")
	defer func() { tracing.EndSpan(span, err) }()

	request, ok := lastUser(history)
	if !ok {
		return nil, fmt.Errorf("no user message to route")
	}

	conv := append([]state.Message(nil), history...)
	used := make(map[string]bool, len(s.teams))
	res = &TurnResult{}
	var (
		outputs []state.Message
		final   Decision
		// upstream is the last routing failure that was not an invalid
		// decision.
		upstream error
	)

	for {
		if err := turn.Hops.Take(); err != nil {
			return nil, err
		}

		options := s.unused(used)
		if len(options) == 0 {
			final = Decision{Next: Finish}
			turn.Observer.decision(TopSupervisorName, final)
			break
		}

		d, err := s.router.Decide(ctx, TopSupervisorName, s.prompt, conv, options, true)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Warn("forcing FINISH: %v", err)
			turn.Observer.failed(TopSupervisorName, err)
			if !errors.Is(err, ErrInvalidDecision) {
				upstream = err
			}
			d = Decision{Next: Finish}
		}
		turn.Observer.decision(TopSupervisorName, d)
		if d.IsFinish() {
			final = d
			break
		}

		used[d.Next] = true
		res.Teams = append(res.Teams, d.Next)
		team := s.team(d.Next)
		out, err := team.Run(ctx, turn, request)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(out.Final) == "" {
			s.logger.Debug("%s produced no output", d.Next)
			continue
		}

		msg := state.AgentMessage(d.Next, out.Final)
		conv = append(conv, msg)
		outputs = append(outputs, msg)
		res.Messages = append(res.Messages, msg)
		turn.Observer.message(msg)
	}
	res.Next = Finish

	switch len(outputs) {
	case 0:
		res.Final = final.FinalMessage
		switch {
		case res.Final != "":
		case upstream != nil:
			res.Final = NoResponse + strings.TrimRight(upstream.Error(), ".") + "."
		default:
			res.Final = Clarification
		}
	case 1:
		res.Final = outputs[0].Content
		return res, nil
	default:
		res.Final = s.synthesize(ctx, request.Content, outputs)
	}

	msg := state.AgentMessage(TopSupervisorName, res.Final)
	res.Messages = append(res.Messages, msg)
	turn.Observer.message(msg)
	return res, nil
}

func (s *TopSupervisor) unused(used map[string]bool) []string {
	var out []string
	for _, t := range s.teams {
		if name := t.Team().Name; !used[name] {
			out = append(out, name)
		}
	}
	return out
}

// synthesize merges several team outputs with one model call. If the call
// fails after a retry the outputs are returned side by side.
func (s *TopSupervisor) synthesize(ctx context.Context, request string, outputs []state.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request:\n%s\n\nTeam outputs:\n", request)
	for _, o := range outputs {
		fmt.Fprintf(&b, "\n[%s]:\n%s\n", o.Originator, o.Content)
	}
	msgs := []provider.Message{{Role: provider.RoleUser, Content: b.String()}}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := s.provider.Chat(ctx, s.synthesisPrompt, msgs, nil)
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			s.router.metrics.RecordLLMCall(s.provider.Model(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
			return strings.TrimSpace(resp.Content)
		}
		if err == nil {
			err = fmt.Errorf("empty synthesis")
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	s.logger.Warn("synthesis failed, returning team outputs: %v", lastErr)

	parts := make([]string, len(outputs))
	for i, o := range outputs {
		parts[i] = fmt.Sprintf("**%s**\n%s", o.Originator, o.Content)
	}
	return strings.Join(parts, "\n\n")
}

func lastUser(history []state.Message) (state.Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == state.RoleUser {
			return history[i], true
		}
	}
	return state.Message{}, false
}
