package core

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel controls which messages a ProductionLogger emits.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLogLevel maps a config string onto a level, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// ProductionLogger writes newline-delimited JSON log records. It implements
// ComponentAwareLogger so packages can scope their own child loggers.
type ProductionLogger struct {
	level     LogLevel
	component string
	out       io.Writer
	mu        *sync.Mutex
}

// NewProductionLogger creates a JSON-lines logger writing to stderr.
func NewProductionLogger(level LogLevel) *ProductionLogger {
	return &ProductionLogger{
		level: level,
		out:   os.Stderr,
		mu:    &sync.Mutex{},
	}
}

// NewProductionLoggerWithWriter is used by tests to capture output.
func NewProductionLoggerWithWriter(level LogLevel, out io.Writer) *ProductionLogger {
	return &ProductionLogger{level: level, out: out, mu: &sync.Mutex{}}
}

// WithComponent returns a child logger attributed to the component. The
// child shares the parent's writer and lock so lines never interleave.
func (l *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{
		level:     l.level,
		component: component,
		out:       l.out,
		mu:        l.mu,
	}
}

func (l *ProductionLogger) log(level string, lvl LogLevel, msg string, fields map[string]interface{}) {
	if lvl < l.level {
		return
	}
	record := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		if err, ok := v.(error); ok {
			record[k] = err.Error()
			continue
		}
		record[k] = v
	}
	record["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	record["level"] = level
	record["msg"] = msg
	if l.component != "" {
		record["component"] = l.component
	}
	line, err := json.Marshal(record)
	if err != nil {
		// Fields contained something unmarshalable; keep the message.
		line, _ = json.Marshal(map[string]interface{}{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": level,
			"msg":   msg,
		})
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(line, '\n'))
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log("DEBUG", DebugLevel, msg, fields)
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", InfoLevel, msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", WarnLevel, msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log("ERROR", ErrorLevel, msg, fields)
}

func (l *ProductionLogger) withRequestID(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	id := RequestIDFromContext(ctx)
	if id == "" {
		return fields
	}
	merged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["request_id"] = id
	return merged
}

func (l *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("DEBUG", DebugLevel, msg, l.withRequestID(ctx, fields))
}

func (l *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("INFO", InfoLevel, msg, l.withRequestID(ctx, fields))
}

func (l *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("WARN", WarnLevel, msg, l.withRequestID(ctx, fields))
}

func (l *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("ERROR", ErrorLevel, msg, l.withRequestID(ctx, fields))
}

type requestIDKey struct{}

// ContextWithRequestID stores the gateway's correlation ID on the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the correlation ID or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
