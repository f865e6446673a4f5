// Package logging provides structured, leveled logging for lookout.
//
// Loggers are named after the component that owns them and support
// persistent fields, per-package level overrides and OpenTelemetry trace
// correlation. Records are emitted through a zap core so the same call
// sites can produce console or JSON output.
//
// Basic usage:
//
//	logging.Initialize("info", map[string]string{"agent.*": "debug"})
//	logger := logging.GetLogger("agent.supervisor")
//	logger.InfoWithFields("routing decision",
//	    logging.Field("supervisor", "telemetry_supervisor"),
//	    logging.Field("next", "telemetry_fetcher"),
//	)
//
// Child loggers created with WithField, WithFields or WithContext never
// mutate their parent and are safe for concurrent use.
package logging

import (
	"context"
	"os"
	"sync"
)

var (
	globalLogger *Logger
	initOnce     sync.Once
	// exitFunc is called by Fatal. Tests replace it.
	exitFunc = os.Exit
)

// Initialize sets the default level and optional per-package overrides.
// packageLevels maps package patterns to level names, for example
// {"agent.*": "DEBUG", "gateway": "WARN"}.
func Initialize(levelStr string, packageLevels ...map[string]string) error {
	level, err := parseLevel(levelStr)
	if err != nil {
		level = INFO
	}

	globalLogger = &Logger{
		level: level,
		name:  "lookout",
	}

	if len(packageLevels) > 0 && packageLevels[0] != nil {
		if err := SetPackageLogLevels(packageLevels[0]); err != nil {
			return err
		}
	}

	return nil
}

// GetLogger returns a logger with the specified name.
func GetLogger(name string) *Logger {
	initOnce.Do(func() {
		if globalLogger == nil {
			_ = Initialize("info")
		}
	})
	return &Logger{
		level:  globalLogger.level,
		name:   name,
		fields: make(map[string]interface{}),
	}
}

func (l *Logger) shouldLog(level LogLevel) bool {
	if pkgLevel := GetPackageLogLevel(l.name); pkgLevel >= 0 {
		return level >= pkgLevel
	}
	return level >= l.level
}

// Enabled reports whether a record at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return l.shouldLog(level)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.shouldLog(DEBUG) {
		l.logf(DEBUG, msg, args...)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.shouldLog(INFO) {
		l.logf(INFO, msg, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.shouldLog(WARN) {
		l.logf(WARN, msg, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.shouldLog(ERROR) {
		l.logf(ERROR, msg, args...)
	}
}

// Fatal logs a fatal message and exits the program with code 1
func (l *Logger) Fatal(msg string, args ...interface{}) {
	if l.shouldLog(FATAL) {
		l.logf(FATAL, msg, args...)
		exitFunc(1)
	}
}

// ErrorWithErr logs an error message with an error object
func (l *Logger) ErrorWithErr(msg string, err error) {
	if l.shouldLog(ERROR) {
		l.logWithFields(ERROR, msg, Field("error", err))
	}
}

// WithName returns a new logger with a custom name
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		level:  l.level,
		name:   name,
		fields: make(map[string]interface{}),
		ctx:    l.ctx,
	}
}

// WithField adds a structured field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	child := l.clone()
	child.fields[key] = value
	return child
}

// WithFields adds multiple structured fields to the logger
func (l *Logger) WithFields(fields ...LogField) *Logger {
	child := l.clone()
	for _, f := range fields {
		child.fields[f.Key] = f.Value
	}
	return child
}

// WithContext returns a logger that stamps trace_id and span_id from the
// active span in ctx on every record.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	child := l.clone()
	child.ctx = ctx
	return child
}

// DebugWithFields logs a debug message with structured fields
func (l *Logger) DebugWithFields(msg string, fields ...LogField) {
	if l.shouldLog(DEBUG) {
		l.logWithFields(DEBUG, msg, fields...)
	}
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(msg string, fields ...LogField) {
	if l.shouldLog(INFO) {
		l.logWithFields(INFO, msg, fields...)
	}
}

// WarnWithFields logs a warning message with structured fields
func (l *Logger) WarnWithFields(msg string, fields ...LogField) {
	if l.shouldLog(WARN) {
		l.logWithFields(WARN, msg, fields...)
	}
}

// ErrorWithFields logs an error message with structured fields
func (l *Logger) ErrorWithFields(msg string, fields ...LogField) {
	if l.shouldLog(ERROR) {
		l.logWithFields(ERROR, msg, fields...)
	}
}

func (l *Logger) clone() *Logger {
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{
		level:  l.level,
		name:   l.name,
		fields: fields,
		ctx:    l.ctx,
	}
}

// mergeFields combines context, persistent and call-site fields.
// Later sources win: context < logger < call site.
func (l *Logger) mergeFields(fields ...LogField) map[string]interface{} {
	contextFields := extractContextFields(l.ctx)
	if contextFields == nil && len(l.fields) == 0 && len(fields) == 0 {
		return nil
	}

	merged := make(map[string]interface{}, len(contextFields)+len(l.fields)+len(fields))
	for k, v := range contextFields {
		merged[k] = v
	}
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	return merged
}

func (l *Logger) logWithFields(level LogLevel, msg string, fields ...LogField) {
	l.writeLog(level, msg, l.mergeFields(fields...))
}

func levelName(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return strError
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}
