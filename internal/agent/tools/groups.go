package tools

// DocumentationToolName is the documentation lookup available to every
// worker.
const DocumentationToolName = "dynatrace_documentation"

// DataTools are the read-only tools a fetcher may call. Names match the
// tools published by the Dynatrace MCP server. Messaging tools such as
// send_slack_message are never part of a worker subset.
var DataTools = []string{
	"generate_dql_from_natural_language",
	"verify_dql",
	"execute_dql",
	"find_entity_by_name",
	"get_entity_details",
	"list_problems",
	"get_problem_details",
	"list_vulnerabilities",
	"get_vulnerability_details",
	"get_kubernetes_events",
	DocumentationToolName,
}

// DocumentationTools are the only tools an analyst may call.
var DocumentationTools = []string{DocumentationToolName}
