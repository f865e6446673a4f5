package supervisor

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/moolen/lookout/internal/agent/state"
	"github.com/moolen/lookout/internal/agent/worker"
	"github.com/moolen/lookout/internal/logging"
	"github.com/moolen/lookout/internal/tracing"
)

// Phase is the position of a domain supervisor in its fetch-then-analyze
// workflow.
type Phase string

const (
	PhaseStart           Phase = "START"
	PhaseAwaitingFetcher Phase = "AWAITING_FETCHER"
	PhaseAwaitingAnalyst Phase = "AWAITING_ANALYST"
	PhaseDone            Phase = "DONE"
)

// Team is the static description of one domain team.
type Team struct {
	// Name is the node name the top-level supervisor routes to, e.g.
	// problems_team.
	Name string
	// Supervisor is the domain supervisor's name, e.g. problems_supervisor.
	Supervisor string
	Domain     string
	Prompt     string
	Fetcher    worker.Spec
	Analyst    worker.Spec
}

// TeamResult is what a domain session produced.
type TeamResult struct {
	Team string
	// Messages is the team-internal transcript after the request.
	Messages []state.Message
	// Final is the last worker message, empty when no worker ran.
	Final string
	Phase Phase
}

// Runner executes a worker step. *worker.Runner implements it.
type Runner interface {
	Run(ctx context.Context, spec worker.Spec, history []state.Message) (state.Message, error)
}

// DomainSupervisor drives a fetcher and an analyst, each at most once, and
// never the analyst before the fetcher.
type DomainSupervisor struct {
	team    Team
	router  *Router
	workers Runner
	logger  *logging.Logger
}

func NewDomainSupervisor(team Team, router *Router, workers Runner) *DomainSupervisor {
	return &DomainSupervisor{
		team:    team,
		router:  router,
		workers: workers,
		logger:  logging.GetLogger("supervisor").WithField("team", team.Name),
	}
}

func (s *DomainSupervisor) Team() Team { return s.team }

// Run handles request in a fresh sub-session. Only ErrRecursionLimit and
// context errors are returned; routing failures end the session.
func (s *DomainSupervisor) Run(ctx context.Context, turn *Turn, request state.Message) (res *TeamResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "team.run", attribute.String("team", s.team.Name))
	defer func() { tracing.EndSpan(span, err) }()

	history := []state.Message{request}
	used := make(map[string]bool, 2)
	res = &TeamResult{Team: s.team.Name, Phase: PhaseStart}
	options := []string{s.team.Fetcher.Name, s.team.Analyst.Name}

	for res.Phase != PhaseDone {
		if used[s.team.Fetcher.Name] && used[s.team.Analyst.Name] {
			s.finish(turn, res, Decision{Next: Finish})
			break
		}
		if err := turn.Hops.Take(); err != nil {
			return nil, err
		}

		d, err := s.router.Decide(ctx, s.team.Supervisor, s.team.Prompt, history, options, false)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Warn("forcing FINISH: %v", err)
			turn.Observer.failed(s.team.Supervisor, err)
			s.finish(turn, res, Decision{Next: Finish})
			break
		}

		next := s.enforce(d.Next, used)
		if next == Finish {
			s.finish(turn, res, Decision{Next: Finish})
			break
		}
		turn.Observer.decision(s.team.Supervisor, Decision{Next: next})

		spec := s.team.Fetcher
		res.Phase = PhaseAwaitingFetcher
		if next == s.team.Analyst.Name {
			spec = s.team.Analyst
			res.Phase = PhaseAwaitingAnalyst
		}
		used[next] = true

		msg, err := s.workers.Run(ctx, spec, history)
		if err != nil {
			return nil, err
		}
		history = append(history, msg)
		res.Messages = append(res.Messages, msg)
		res.Final = msg.Content
		turn.Observer.workerMessage(s.team.Name, msg)
	}
	return res, nil
}

// enforce applies the ordering rules on top of the model's choice: a worker
// already consumed finishes the session, and the analyst cannot run before
// the fetcher.
func (s *DomainSupervisor) enforce(next string, used map[string]bool) string {
	if next == Finish {
		return Finish
	}
	if used[next] {
		s.logger.Debug("%s already ran, finishing", next)
		return Finish
	}
	if next == s.team.Analyst.Name && !used[s.team.Fetcher.Name] {
		s.logger.Debug("analyst requested before fetcher, running %s first", s.team.Fetcher.Name)
		return s.team.Fetcher.Name
	}
	return next
}

func (s *DomainSupervisor) finish(turn *Turn, res *TeamResult, d Decision) {
	res.Phase = PhaseDone
	turn.Observer.decision(s.team.Supervisor, d)
}

// IsFatal reports whether err must abort the whole turn.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRecursionLimit) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
