// Package logging provides structured logging for the DOCKR docking service.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log entry.
type LogLevel string

const (
	// DebugLevel carries per-generation and per-request detail.
	DebugLevel LogLevel = "DEBUG"
	// InfoLevel is the default logging priority.
	InfoLevel LogLevel = "INFO"
	// WarnLevel reports recoverable degradations such as sampling exhaustion.
	WarnLevel LogLevel = "WARN"
	// ErrorLevel reports failed jobs and requests.
	ErrorLevel LogLevel = "ERROR"
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel LogLevel = "FATAL"
)

var severity = map[LogLevel]int{
	DebugLevel: 0,
	InfoLevel:  1,
	WarnLevel:  2,
	ErrorLevel: 3,
	FatalLevel: 4,
}

// Format selects the entry encoding.
type Format string

const (
	JSONFormat Format = "json"
	TextFormat Format = "text"
)

// Logger writes leveled entries with attached fields. Loggers derived with
// WithFields share the output and its lock.
type Logger struct {
	level  LogLevel
	format Format
	out    *syncWriter
	fields map[string]interface{}
	exit   func(int)
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(p)
}

// New creates a JSON Logger with the specified level and output.
func New(level LogLevel, output io.Writer) *Logger {
	return &Logger{
		level:  level,
		format: JSONFormat,
		out:    &syncWriter{w: output},
		fields: make(map[string]interface{}),
		exit:   os.Exit,
	}
}

// WithFormat returns a copy of l using format.
func (l *Logger) WithFormat(format Format) *Logger {
	c := *l
	c.format = format
	return &c
}

// WithFields returns a new Logger with the specified fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	c := *l
	c.fields = newFields
	return &c
}

// WithField returns a new Logger with the specified key-value pair.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithError returns a new Logger with the error field set.
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

func (l *Logger) log(level LogLevel, msg string, fields map[string]interface{}, caller string) {
	if !l.shouldLog(level) {
		return
	}

	if caller == "" {
		caller = callerAt(3)
	}

	entry := make(map[string]interface{}, len(l.fields)+len(fields)+4)
	for k, v := range l.fields {
		entry[k] = v
	}
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["message"] = msg
	entry["caller"] = caller

	l.out.write(l.encode(entry))

	if level == FatalLevel {
		l.exit(1)
	}
}

func (l *Logger) encode(entry map[string]interface{}) []byte {
	if l.format == TextFormat {
		var b strings.Builder
		fmt.Fprintf(&b, "%s %-5s %s", entry["timestamp"], entry["level"], entry["message"])
		keys := make([]string, 0, len(entry))
		for k := range entry {
			switch k {
			case "timestamp", "level", "message":
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, entry[k])
		}
		b.WriteByte('\n')
		return []byte(b.String())
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return []byte(fmt.Sprintf("%s [%s] %s: %+v\n", entry["timestamp"], entry["level"], entry["message"], entry))
	}
	return append(data, '\n')
}

// callerAt returns file:line of the frame skip levels up, keeping the last
// two path elements.
func callerAt(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???:0"
	}
	parts := strings.Split(file, "/")
	if len(parts) > 2 {
		file = strings.Join(parts[len(parts)-2:], "/")
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func (l *Logger) shouldLog(level LogLevel) bool {
	want, ok := severity[level]
	if !ok {
		return false
	}
	have, ok := severity[l.level]
	if !ok {
		return false
	}
	return want >= have
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a message at DebugLevel.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(DebugLevel, msg, first(fields), "")
}

// Info logs a message at InfoLevel.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(InfoLevel, msg, first(fields), "")
}

// Warn logs a message at WarnLevel.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(WarnLevel, msg, first(fields), "")
}

// Error logs a message at ErrorLevel.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(ErrorLevel, msg, first(fields), "")
}

// Fatal logs a message at FatalLevel then calls os.Exit(1).
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	l.log(FatalLevel, msg, first(fields), "")
}

// CtxLogger is a logger that can be used with context.
type CtxLogger struct {
	*Logger
}

// FromContext returns the request logger stored in ctx, or a default
// stderr logger.
func FromContext(ctx context.Context) *CtxLogger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*CtxLogger); ok {
		return logger
	}
	return &CtxLogger{New(InfoLevel, os.Stderr)}
}

// WithContext returns a new context with the logger.
func (l *CtxLogger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, l)
}

type ctxLoggerKey struct{}
