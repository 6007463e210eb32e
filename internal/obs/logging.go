// Package obs holds the ambient logging and error-taxonomy surface shared
// by every coordination component.
package obs

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through the logger.
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	AgentIDKey ContextKey = "agent_id"
	CycleKey   ContextKey = "cycle_number"
)

// Logger wraps logrus.Logger with the fields every component tags its
// entries with.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a logger for the named component.
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv builds a Logger from LOG_LEVEL/LOG_FORMAT, defaulting to
// info/json when unset.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext attaches trace/agent/cycle identity from ctx, if present.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if v := ctx.Value(TraceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	if v := ctx.Value(AgentIDKey); v != nil {
		entry = entry.WithField("agent_id", v)
	}
	if v := ctx.Value(CycleKey); v != nil {
		entry = entry.WithField("cycle_number", v)
	}
	return entry
}

// WithFields attaches arbitrary structured fields alongside the component tag.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithAgent tags an entry with the agent identity it concerns.
func (l *Logger) WithAgent(agentID string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"agent_id": agentID})
}

// WithCycle tags an entry with the economy-loop cycle it concerns.
func (l *Logger) WithCycle(cycleNumber int) *logrus.Entry {
	return l.WithFields(logrus.Fields{"cycle_number": cycleNumber})
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

func WithCycleNumber(ctx context.Context, cycle int) context.Context {
	return context.WithValue(ctx, CycleKey, cycle)
}

var defaultLogger *Logger

// InitDefault sets the process-wide default logger.
func InitDefault(component, level, format string) {
	defaultLogger = New(component, level, format)
}

// Default returns the process-wide logger, lazily creating a fallback.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("runtime", "info", "json")
	}
	return defaultLogger
}
