package logging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func captureLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	SetBackend(zap.New(core))
	t.Cleanup(func() {
		SetFormat(string(FormatConsole))
		_ = SetPackageLogLevels(map[string]string{})
	})
	return logs
}

func TestLevelFiltering(t *testing.T) {
	logs := captureLogs(t)
	require.NoError(t, Initialize("warn"))

	logger := &Logger{level: WARN, name: "agent.worker", fields: map[string]interface{}{}}
	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept %d", 1)
	logger.Error("kept")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "kept 1", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "agent.worker", entries[0].LoggerName)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	logs := captureLogs(t)

	parent := &Logger{level: DEBUG, name: "engine", fields: map[string]interface{}{}}
	child := parent.WithField("thread_id", "t-1").WithFields(Field("turn", 2))

	parent.Info("parent")
	child.InfoWithFields("child", Field("turn", 3))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Empty(t, entries[0].ContextMap())
	assert.Equal(t, map[string]interface{}{"thread_id": "t-1", "turn": int64(3)}, entries[1].ContextMap())
}

func TestErrorWithErr(t *testing.T) {
	logs := captureLogs(t)

	logger := &Logger{level: INFO, name: "gateway", fields: map[string]interface{}{}}
	logger.ErrorWithErr("call failed", errors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
}

func TestFatalCallsExit(t *testing.T) {
	logs := captureLogs(t)
	var code int
	orig := exitFunc
	exitFunc = func(c int) { code = c }
	t.Cleanup(func() { exitFunc = orig })

	logger := &Logger{level: INFO, name: "cmd", fields: map[string]interface{}{}}
	logger.Fatal("cannot start: %s", "bad config")

	assert.Equal(t, 1, code)
	require.Len(t, logs.All(), 1)
	assert.Equal(t, "FATAL", logs.All()[0].ContextMap()["severity"])
}

func TestWithContextAddsTraceIDs(t *testing.T) {
	logs := captureLogs(t)

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger := (&Logger{level: INFO, name: "engine", fields: map[string]interface{}{}}).WithContext(ctx)
	logger.Info("turn started")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
}

func TestExtractContextFieldsWithoutSpan(t *testing.T) {
	assert.Nil(t, extractContextFields(nil))
	assert.Nil(t, extractContextFields(context.Background()))
}

func TestPackageLevelOverrides(t *testing.T) {
	logs := captureLogs(t)
	require.NoError(t, SetPackageLogLevels(map[string]string{
		"agent.*":      "debug",
		"agent.worker": "error",
	}))

	supervisor := &Logger{level: INFO, name: "agent.supervisor", fields: map[string]interface{}{}}
	worker := &Logger{level: INFO, name: "agent.worker", fields: map[string]interface{}{}}

	supervisor.Debug("visible")
	worker.Warn("hidden")
	worker.Error("visible")

	assert.Equal(t, 2, logs.Len())
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		name    string
		pkg     string
		pattern string
		want    bool
	}{
		{"exact", "agent.worker", "agent.worker", true},
		{"wildcard", "agent.worker", "agent.*", true},
		{"nested wildcard", "agent.worker.fetcher", "agent.*", true},
		{"prefix without dot", "agentx", "agent.*", false},
		{"unrelated", "gateway", "agent.*", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesPattern(tt.pkg, tt.pattern))
		})
	}
}

func TestSetPackageLogLevelsRejectsInvalidLevel(t *testing.T) {
	err := SetPackageLogLevels(map[string]string{"agent": "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"agent"`)
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, WARN, level)

	_, err = parseLevel("verbose")
	assert.Error(t, err)
}
