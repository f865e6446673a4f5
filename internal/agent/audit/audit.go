// Package audit records what happened during a session (routing decisions,
// worker messages, tool calls, LLM usage) to a JSONL file for debugging and
// replay.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeSessionStart marks the start of a new session.
	EventTypeSessionStart EventType = "session_start"
	// EventTypeTurnStart marks a user message entering a thread.
	EventTypeTurnStart EventType = "turn_start"
	// EventTypeRoutingDecision marks a supervisor choosing the next node.
	EventTypeRoutingDecision EventType = "routing_decision"
	// EventTypeWorkerMessage marks a message appended by a worker or supervisor.
	EventTypeWorkerMessage EventType = "worker_message"
	// EventTypeToolCall marks the start of a tool call.
	EventTypeToolCall EventType = "tool_call"
	// EventTypeToolResult marks the completion of a tool call.
	EventTypeToolResult EventType = "tool_result"
	// EventTypeTurnComplete marks the end of a user turn.
	EventTypeTurnComplete EventType = "turn_complete"
	// EventTypeError marks an error during processing.
	EventTypeError EventType = "error"
	// EventTypeSessionEnd marks the end of a session.
	EventTypeSessionEnd EventType = "session_end"

	// EventTypeLLMRequest logs each LLM request with token usage.
	EventTypeLLMRequest EventType = "llm_request"
)

// maxContentLen bounds message and result text stored per event.
const maxContentLen = 4000

// Event represents a single audit log event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	// ThreadID is the conversation the event belongs to, if any.
	ThreadID string `json:"thread_id,omitempty"`
	// Agent is the supervisor or worker that generated the event.
	Agent string                 `json:"agent,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Logger writes audit events to a JSONL file. A nil *Logger discards
// everything, so callers need no checks when auditing is off.
type Logger struct {
	file      *os.File
	writer    *bufio.Writer
	mutex     sync.Mutex
	sessionID string
}

// NewLogger creates a new audit logger that writes to the specified file path.
// If the file exists, new events are appended.
func NewLogger(filePath, sessionID string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log dir: %w", err)
	}
	// #nosec G304 -- Audit log path is intentionally configurable by user
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		file:      file,
		writer:    bufio.NewWriter(file),
		sessionID: sessionID,
	}, nil
}

// SessionPath returns the audit file for a session under dir.
func SessionPath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".jsonl")
}

func (l *Logger) write(event Event) error {
	if l == nil {
		return nil
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()

	event.Timestamp = time.Now()
	event.SessionID = l.sessionID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if _, err := l.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for crash safety
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit log: %w", err)
	}
	return nil
}

// LogSessionStart logs the start of a new session.
func (l *Logger) LogSessionStart(model string) error {
	return l.write(Event{
		Type: EventTypeSessionStart,
		Data: map[string]interface{}{
			"model": model,
		},
	})
}

// LogTurnStart logs a user message entering a thread.
func (l *Logger) LogTurnStart(threadID, message string) error {
	return l.write(Event{
		Type:     EventTypeTurnStart,
		ThreadID: threadID,
		Data: map[string]interface{}{
			"message": truncateString(message, maxContentLen),
		},
	})
}

// LogRoutingDecision logs a supervisor decision. finalMessage is only set
// by the top-level supervisor when it finishes.
func (l *Logger) LogRoutingDecision(threadID, supervisor, next, finalMessage string) error {
	data := map[string]interface{}{
		"next": next,
	}
	if finalMessage != "" {
		data["final_message"] = truncateString(finalMessage, maxContentLen)
	}
	return l.write(Event{
		Type:     EventTypeRoutingDecision,
		ThreadID: threadID,
		Agent:    supervisor,
		Data:     data,
	})
}

// LogWorkerMessage logs a message appended to the conversation.
func (l *Logger) LogWorkerMessage(threadID, originator, content string) error {
	return l.write(Event{
		Type:     EventTypeWorkerMessage,
		ThreadID: threadID,
		Agent:    originator,
		Data: map[string]interface{}{
			"content": truncateString(content, maxContentLen),
		},
	})
}

// LogToolCall logs the start of a tool call.
func (l *Logger) LogToolCall(agentName, toolName string, args json.RawMessage) error {
	return l.write(Event{
		Type:  EventTypeToolCall,
		Agent: agentName,
		Data: map[string]interface{}{
			"tool_name": toolName,
			"args":      truncateString(string(args), maxContentLen),
		},
	})
}

// LogToolResult logs the completion of a tool call.
func (l *Logger) LogToolResult(agentName, toolName string, success bool, duration time.Duration, summary string) error {
	return l.write(Event{
		Type:  EventTypeToolResult,
		Agent: agentName,
		Data: map[string]interface{}{
			"tool_name":   toolName,
			"success":     success,
			"duration_ms": duration.Milliseconds(),
			"summary":     truncateString(summary, maxContentLen),
		},
	})
}

// LogTurnComplete logs the end of a user turn.
func (l *Logger) LogTurnComplete(threadID string, duration time.Duration, appended int) error {
	return l.write(Event{
		Type:     EventTypeTurnComplete,
		ThreadID: threadID,
		Data: map[string]interface{}{
			"duration_ms":       duration.Milliseconds(),
			"messages_appended": appended,
		},
	})
}

// LogError logs an error during processing.
func (l *Logger) LogError(threadID, agentName string, err error) error {
	return l.write(Event{
		Type:     EventTypeError,
		ThreadID: threadID,
		Agent:    agentName,
		Data: map[string]interface{}{
			"error": err.Error(),
		},
	})
}

// LogLLMRequest logs an individual LLM request with token usage information.
func (l *Logger) LogLLMRequest(agentName, model string, inputTokens, outputTokens int, stopReason string) error {
	return l.write(Event{
		Type:  EventTypeLLMRequest,
		Agent: agentName,
		Data: map[string]interface{}{
			"model":         model,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
			"total_tokens":  inputTokens + outputTokens,
			"stop_reason":   stopReason,
		},
	})
}

// LogSessionEnd logs the end of a session.
func (l *Logger) LogSessionEnd() error {
	return l.write(Event{Type: EventTypeSessionEnd})
}

// Close closes the audit logger and flushes any pending writes.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var errs []error
	if err := l.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush audit log: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audit log file: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing audit log: %v", errs)
	}
	return nil
}

// truncateString truncates a string to maxLen characters.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
