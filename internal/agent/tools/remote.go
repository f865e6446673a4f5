package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Caller invokes a tool on a remote server and returns its text output.
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// RemoteTool forwards execution to a Caller.
type RemoteTool struct {
	caller      Caller
	name        string
	description string
	schema      map[string]interface{}
}

// NewRemoteTool wraps a remote tool advertised by the gateway.
func NewRemoteTool(caller Caller, name, description string, schema map[string]interface{}) *RemoteTool {
	if schema == nil {
		schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return &RemoteTool{caller: caller, name: name, description: description, schema: schema}
}

func (t *RemoteTool) Name() string                        { return t.name }
func (t *RemoteTool) Description() string                 { return t.description }
func (t *RemoteTool) InputSchema() map[string]interface{} { return t.schema }

func (t *RemoteTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	args := map[string]interface{}{}
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("invalid input for %s: %w", t.name, err)
		}
	}

	out, err := t.caller.CallTool(ctx, t.name, args)
	if err != nil {
		return nil, err
	}
	return &Result{
		Success: true,
		Data:    out,
		Summary: fmt.Sprintf("%s returned %d bytes", t.name, len(out)),
	}, nil
}
