package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockTool returns a canned response. It stands in for remote tools in
// tests and in offline mode.
type MockTool struct {
	name        string
	description string
	schema      map[string]interface{}
	response    *Result
	err         error
	delay       time.Duration

	mu    sync.Mutex
	calls []json.RawMessage
}

// NewMockTool creates a tool answering with response.
func NewMockTool(name, description string, response *Result) *MockTool {
	return &MockTool{
		name:        name,
		description: description,
		schema:      map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		response:    response,
	}
}

// NewFailingMockTool creates a tool whose Execute always fails with err.
func NewFailingMockTool(name string, err error) *MockTool {
	t := NewMockTool(name, "failing "+name, nil)
	t.err = err
	return t
}

func (t *MockTool) Name() string                        { return t.name }
func (t *MockTool) Description() string                 { return t.description }
func (t *MockTool) InputSchema() map[string]interface{} { return t.schema }

// Calls returns the inputs seen so far.
func (t *MockTool) Calls() []json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]json.RawMessage(nil), t.calls...)
}

func (t *MockTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	t.mu.Lock()
	t.calls = append(t.calls, input)
	t.mu.Unlock()
	if t.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.delay):
		}
	}
	if t.err != nil {
		return nil, t.err
	}
	if t.response == nil {
		return &Result{
			Success: true,
			Summary: fmt.Sprintf("Mock response for %s", t.name),
			Data:    map[string]interface{}{"mock": true},
		}, nil
	}
	r := *t.response
	return &r, nil
}

// NewMockRegistry returns canned Dynatrace tools for running without a
// tool server.
func NewMockRegistry() *Registry {
	return NewRegistry(
		&MockTool{
			name:        "list_problems",
			description: "List Davis problems in the environment",
			schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"timeframe": map[string]interface{}{"type": "string"},
					"status":    map[string]interface{}{"type": "string"},
				},
			},
			response: &Result{
				Success: true,
				Summary: "1 open problem",
				Data: []map[string]interface{}{{
					"problemId":        "P-2410231",
					"title":            "Failure rate increase",
					"status":           "OPEN",
					"affectedEntities": []string{"SERVICE-8C4B2F1A checkout-service"},
					"rootCause":        "PROCESS_GROUP_INSTANCE-11AF payment-gateway",
					"startTime":        "2026-10-18T07:42:00Z",
				}},
			},
			delay: 100 * time.Millisecond,
		},
		&MockTool{
			name:        "list_vulnerabilities",
			description: "List open security vulnerabilities",
			schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"riskScore": map[string]interface{}{"type": "number"},
				},
			},
			response: &Result{
				Success: true,
				Summary: "1 critical vulnerability",
				Data: []map[string]interface{}{{
					"vulnerabilityId": "S-1182",
					"title":           "CVE-2025-24813 Apache Tomcat path equivalence",
					"riskLevel":       "CRITICAL",
					"riskScore":       9.8,
					"affected":        []string{"PROCESS_GROUP-9D1E catalog-api"},
				}},
			},
			delay: 100 * time.Millisecond,
		},
		&MockTool{
			name:        "verify_dql",
			description: "Verify a DQL statement",
			schema: map[string]interface{}{
				"type":       "object",
				"required":   []string{"dqlStatement"},
				"properties": map[string]interface{}{"dqlStatement": map[string]interface{}{"type": "string"}},
			},
			response: &Result{Success: true, Data: "DQL statement is valid.", Summary: "valid"},
		},
		&MockTool{
			name:        "execute_dql",
			description: "Execute a DQL statement against Grail",
			schema: map[string]interface{}{
				"type":       "object",
				"required":   []string{"dqlStatement"},
				"properties": map[string]interface{}{"dqlStatement": map[string]interface{}{"type": "string"}},
			},
			response: &Result{
				Success: true,
				Summary: "3 records",
				Data: []map[string]interface{}{
					{"timestamp": "2026-10-18T07:40:11Z", "loglevel": "ERROR", "content": "payment-gateway timeout after 30s"},
					{"timestamp": "2026-10-18T07:40:52Z", "loglevel": "ERROR", "content": "payment-gateway timeout after 30s"},
					{"timestamp": "2026-10-18T07:41:30Z", "loglevel": "WARN", "content": "retrying charge request"},
				},
			},
			delay: 200 * time.Millisecond,
		},
	)
}
