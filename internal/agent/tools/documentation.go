package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Snippet is one documentation hit.
type Snippet struct {
	Text   string
	Source string
	Topic  string
}

// Searcher looks up documentation snippets. Topic may be empty.
type Searcher interface {
	Search(ctx context.Context, query, topic string) ([]Snippet, error)
}

// DocumentationTool exposes a Searcher as dynatrace_documentation.
type DocumentationTool struct {
	searcher Searcher
}

func NewDocumentationTool(searcher Searcher) *DocumentationTool {
	return &DocumentationTool{searcher: searcher}
}

func (t *DocumentationTool) Name() string { return DocumentationToolName }

func (t *DocumentationTool) Description() string {
	return "Search the Dynatrace rules and reference documentation (DQL syntax, entity model, " +
		"problem and vulnerability workflows). Use it to look up how to query or interpret data."
}

func (t *DocumentationTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"query"},
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look up",
			},
			"topic": map[string]interface{}{
				"type":        "string",
				"description": "Optional section filter, e.g. reference or workflows",
			},
		},
	}
}

type documentationInput struct {
	Query string `json:"query"`
	Topic string `json:"topic,omitempty"`
}

func (t *DocumentationTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in documentationInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	snippets, err := t.searcher.Search(ctx, in.Query, in.Topic)
	if err != nil {
		return nil, err
	}
	if len(snippets) == 0 {
		return &Result{Success: true, Data: "No matching documentation found.", Summary: "0 snippets"}, nil
	}

	var b strings.Builder
	for i, s := range snippets {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, s.Source, s.Text)
	}
	return &Result{
		Success: true,
		Data:    strings.TrimSpace(b.String()),
		Summary: fmt.Sprintf("%d snippets", len(snippets)),
	}, nil
}
