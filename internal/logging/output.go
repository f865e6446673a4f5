package logging

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the encoder used for log output.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

var (
	backendMu sync.RWMutex
	backend   = newBackend(FormatConsole)
)

// SetFormat rebuilds the output backend with the given encoder. Unknown
// formats fall back to console output.
func SetFormat(format string) {
	SetBackend(newBackend(Format(format)))
}

// SetBackend replaces the zap logger that receives all records. Level
// filtering happens before records reach the backend, so the backend core
// should accept every level.
func SetBackend(z *zap.Logger) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backend = z
}

// Sync flushes buffered output.
func Sync() {
	backendMu.RLock()
	defer backendMu.RUnlock()
	_ = backend.Sync()
}

func newBackend(format Format) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encCfg.TimeKey = "ts"

	var encoder zapcore.Encoder
	if format == FormatJSON {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	// stderr keeps stdout free for chat output and the stdio MCP transport.
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(zapcore.DebugLevel))
	return zap.New(core)
}

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	default:
		// FATAL is written at error level; Fatal calls exitFunc itself.
		return zapcore.ErrorLevel
	}
}

func (l *Logger) writeLog(level LogLevel, msg string, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	zfields := make([]zap.Field, 0, len(keys)+1)
	if level == FATAL {
		zfields = append(zfields, zap.String("severity", levelName(level)))
	}
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			zfields = append(zfields, zap.NamedError(k, err))
			continue
		}
		zfields = append(zfields, zap.Any(k, fields[k]))
	}

	backendMu.RLock()
	z := backend
	backendMu.RUnlock()

	if ce := z.Named(l.name).Check(zapLevel(level), msg); ce != nil {
		ce.Write(zfields...)
	}
}

func (l *Logger) logf(level LogLevel, msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.writeLog(level, msg, l.mergeFields())
}

// extractContextFields returns trace_id and span_id of the span active in
// ctx, or nil when there is none.
func extractContextFields(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return map[string]interface{}{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	}
}
