package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open log file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var events []Event
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Errorf("failed to unmarshal event: %v", err)
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("error scanning log file: %v", err)
	}
	return events
}

func TestLogger_WriteEvents(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "sessions", "audit.jsonl")

	logger, err := NewLogger(logPath, "test-session-123")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"LogSessionStart", func() error { return logger.LogSessionStart("claude-sonnet-4-5") }},
		{"LogTurnStart", func() error { return logger.LogTurnStart("thread-1", "list open problems") }},
		{"LogRoutingDecision", func() error { return logger.LogRoutingDecision("thread-1", "top_supervisor", "problems_team", "") }},
		{"LogToolCall", func() error {
			return logger.LogToolCall("problems_fetcher", "list_problems", json.RawMessage(`{"status":"OPEN"}`))
		}},
		{"LogToolResult", func() error {
			return logger.LogToolResult("problems_fetcher", "list_problems", true, 100*time.Millisecond, "2 problems")
		}},
		{"LogWorkerMessage", func() error { return logger.LogWorkerMessage("thread-1", "problems_fetcher", "2 open problems") }},
		{"LogLLMRequest", func() error { return logger.LogLLMRequest("problems_analyst", "claude-sonnet-4-5", 120, 40, "end_turn") }},
		{"LogError", func() error { return logger.LogError("thread-1", "problems_analyst", errors.New("test error")) }},
		{"LogTurnComplete", func() error { return logger.LogTurnComplete("thread-1", 5*time.Second, 4) }},
		{"LogSessionEnd", logger.LogSessionEnd},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			t.Errorf("%s failed: %v", step.name, err)
		}
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}

	events := readEvents(t, logPath)
	expectedTypes := []EventType{
		EventTypeSessionStart,
		EventTypeTurnStart,
		EventTypeRoutingDecision,
		EventTypeToolCall,
		EventTypeToolResult,
		EventTypeWorkerMessage,
		EventTypeLLMRequest,
		EventTypeError,
		EventTypeTurnComplete,
		EventTypeSessionEnd,
	}
	if len(events) != len(expectedTypes) {
		t.Fatalf("expected %d events, got %d", len(expectedTypes), len(events))
	}
	for i, expected := range expectedTypes {
		if events[i].Type != expected {
			t.Errorf("event %d: expected type %s, got %s", i, expected, events[i].Type)
		}
		if events[i].SessionID != "test-session-123" {
			t.Errorf("event %d: expected session ID test-session-123, got %s", i, events[i].SessionID)
		}
	}

	if events[0].Data["model"] != "claude-sonnet-4-5" {
		t.Errorf("session start: expected model, got %v", events[0].Data["model"])
	}
	if events[1].ThreadID != "thread-1" || events[1].Data["message"] != "list open problems" {
		t.Errorf("turn start: unexpected event %+v", events[1])
	}
	if events[2].Agent != "top_supervisor" || events[2].Data["next"] != "problems_team" {
		t.Errorf("routing decision: unexpected event %+v", events[2])
	}
	if _, ok := events[2].Data["final_message"]; ok {
		t.Errorf("routing decision: final_message must be omitted when empty")
	}
	if events[4].Data["success"] != true {
		t.Errorf("tool result: expected success true, got %v", events[4].Data["success"])
	}
	if events[7].Data["error"] != "test error" {
		t.Errorf("error: expected error 'test error', got %v", events[7].Data["error"])
	}
}

func TestLogger_Append(t *testing.T) {
	logPath := SessionPath(t.TempDir(), "shared")

	for _, session := range []string{"session-1", "session-2"} {
		logger, err := NewLogger(logPath, session)
		if err != nil {
			t.Fatalf("failed to create logger: %v", err)
		}
		if err := logger.LogSessionStart("claude-sonnet-4-5"); err != nil {
			t.Errorf("LogSessionStart failed: %v", err)
		}
		if err := logger.Close(); err != nil {
			t.Fatalf("failed to close logger: %v", err)
		}
	}

	events := readEvents(t, logPath)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].SessionID != "session-1" {
		t.Errorf("first event: expected session-1, got %s", events[0].SessionID)
	}
	if events[1].SessionID != "session-2" {
		t.Errorf("second event: expected session-2, got %s", events[1].SessionID)
	}
}

func TestLogger_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")

	logger, err := NewLogger(logPath, "test-session")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 10; j++ {
				_ = logger.LogWorkerMessage("thread-1", "telemetry_fetcher", "chunk")
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
	if count := len(readEvents(t, logPath)); count != 100 {
		t.Errorf("expected 100 events, got %d", count)
	}
}

func TestLogger_NilIsNoop(t *testing.T) {
	var logger *Logger
	if err := logger.LogTurnStart("thread-1", "hello"); err != nil {
		t.Errorf("nil logger returned %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("nil logger close returned %v", err)
	}
}

func TestLogger_TruncatesLongContent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewLogger(logPath, "s")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if err := logger.LogWorkerMessage("t", "devops_fetcher", strings.Repeat("x", maxContentLen+50)); err != nil {
		t.Fatalf("LogWorkerMessage failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}

	content, _ := readEvents(t, logPath)[0].Data["content"].(string)
	if !strings.HasSuffix(content, "...[truncated]") {
		t.Errorf("expected truncated content, got %d bytes", len(content))
	}
}
