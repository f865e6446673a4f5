// Package domains is the team catalog: the four observability domains, their
// prompts and tool subsets, and the wiring into a top-level supervisor.
package domains

import (
	"github.com/moolen/lookout/internal/agent/audit"
	"github.com/moolen/lookout/internal/agent/provider"
	"github.com/moolen/lookout/internal/agent/supervisor"
	"github.com/moolen/lookout/internal/agent/tools"
	"github.com/moolen/lookout/internal/agent/worker"
	"github.com/moolen/lookout/internal/metrics"
)

const (
	Telemetry = "telemetry"
	Problems  = "problems"
	Security  = "security"
	DevOps    = "devops"
)

// Names lists the domains in routing order.
var Names = []string{Telemetry, Problems, Security, DevOps}

type domainPrompts struct {
	supervisor string
	fetcher    string
	analyst    string
}

var prompts = map[string]domainPrompts{
	Telemetry: {telemetrySupervisor, telemetryFetcher, telemetryAnalyst},
	Problems:  {problemsSupervisor, problemsFetcher, problemsAnalyst},
	Security:  {securitySupervisor, securityFetcher, securityAnalyst},
	DevOps:    {devopsSupervisor, devopsFetcher, devopsAnalyst},
}

// TeamName returns the node name the top-level supervisor routes to.
func TeamName(domain string) string { return domain + "_team" }

// Teams builds the static team descriptions. Rules documents are folded
// into the prompts of the workers that need them.
func Teams(rules Rules) []supervisor.Team {
	teams := make([]supervisor.Team, 0, len(Names))
	for _, d := range Names {
		p := prompts[d]
		fetcherName, analystName := d+"_fetcher", d+"_analyst"

		fetcherPrompt := p.fetcher + fetcherRules
		analystPrompt := p.analyst
		switch d {
		case Telemetry:
			fetcherPrompt = withReference(fetcherPrompt, rules.Master, rules.Query)
		case Problems:
			fetcherPrompt = withReference(fetcherPrompt, rules.Problems)
			analystPrompt = withReference(analystPrompt, rules.IncidentResponse, rules.Investigation)
		case Security:
			fetcherPrompt = withReference(fetcherPrompt, rules.SecurityEvents)
			analystPrompt = withReference(analystPrompt, rules.SecurityCompliance)
		case DevOps:
			fetcherPrompt = withReference(fetcherPrompt, rules.Query)
		}

		teams = append(teams, supervisor.Team{
			Name:       TeamName(d),
			Supervisor: d + "_supervisor",
			Domain:     d,
			Prompt:     supervisorPrompt([]string{fetcherName, analystName}, p.supervisor, false),
			Fetcher: worker.Spec{
				Name:   fetcherName,
				Domain: d,
				Prompt: fetcherPrompt,
				Tools:  tools.DataTools,
				Role:   worker.RoleFetcher,
			},
			Analyst: worker.Spec{
				Name:      analystName,
				Domain:    d,
				Prompt:    analystPrompt,
				Tools:     tools.DocumentationTools,
				Role:      worker.RoleAnalyst,
				InputFrom: fetcherName,
			},
		})
	}
	return teams
}

// TopSupervisorPrompt is the routing prompt of the top level.
func TopSupervisorPrompt(rules Rules) string {
	members := make([]string, len(Names))
	for i, d := range Names {
		members[i] = TeamName(d)
	}
	return supervisorPrompt(members, withReference(TopPrompt, rules.Master, rules.Query), true)
}

// Options tune Build.
type Options struct {
	Rules   Rules
	Worker  worker.Config
	Metrics *metrics.Metrics
	Audit   *audit.Logger
}

// Build wires the four teams to p and registry and returns the top-level
// supervisor. The result holds no per-thread state and is safe to share.
func Build(p provider.Provider, registry *tools.Registry, opts Options) *supervisor.TopSupervisor {
	runner := worker.NewRunner(p, registry, opts.Worker,
		worker.WithAudit(opts.Audit),
		worker.WithMetrics(opts.Metrics))
	router := supervisor.NewRouter(p, opts.Metrics)

	var teams []*supervisor.DomainSupervisor
	for _, t := range Teams(opts.Rules) {
		teams = append(teams, supervisor.NewDomainSupervisor(t, router, runner))
	}
	return supervisor.NewTopSupervisor(TopSupervisorPrompt(opts.Rules), SynthesisPrompt, teams, router, p)
}
