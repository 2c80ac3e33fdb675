package logx

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with the key/value calling convention used across the daemon
type Logger struct {
	entry     *logrus.Entry
	base      *logrus.Logger
	component string
}

// NewLogger creates a JSON logger at the given level, tagged with a component name
func NewLogger(level, component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	base.SetLevel(parseLevel(level))

	entry := logrus.NewEntry(base)
	if component != "" {
		entry = entry.WithField("component", component)
	}

	return &Logger{
		entry:     entry,
		base:      base,
		component: component,
	}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	l := NewLogger("error", "")
	l.base.SetOutput(io.Discard)
	return l
}

// SetOutput redirects log output
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

// SetLevel changes the log level at runtime
func (l *Logger) SetLevel(level string) {
	l.base.SetLevel(parseLevel(level))
}

// With returns a child logger carrying the given fields
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{
		entry:     l.entry.WithFields(toFields(fields)),
		base:      l.base,
		component: l.component,
	}
}

func (l *Logger) Trace(msg string, fields ...interface{}) {
	l.entry.WithFields(toFields(fields)).Trace(msg)
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.entry.WithFields(toFields(fields)).Debug(msg)
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	l.entry.WithFields(toFields(fields)).Info(msg)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.entry.WithFields(toFields(fields)).Warn(msg)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	l.entry.WithFields(toFields(fields)).Error(msg)
}

// LogDebugVerbose logs a structured debug event, only emitted at trace level
func (l *Logger) LogDebugVerbose(event string, data map[string]interface{}) {
	if !l.base.IsLevelEnabled(logrus.TraceLevel) {
		return
	}
	l.entry.WithFields(logrus.Fields(data)).WithField("event", event).Trace("debug_verbose")
}

// LogStateChange records a state machine transition
func (l *Logger) LogStateChange(component, from, to, reason string, data map[string]interface{}) {
	fields := logrus.Fields{
		"state_component": component,
		"from":            from,
		"to":              to,
		"reason":          reason,
	}
	for k, v := range data {
		fields[k] = v
	}
	l.entry.WithFields(fields).Info("state_change")
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// toFields accepts either alternating key/value pairs or maps of fields
func toFields(fields []interface{}) logrus.Fields {
	out := logrus.Fields{}
	for i := 0; i < len(fields); i++ {
		switch v := fields[i].(type) {
		case map[string]interface{}:
			for k, val := range v {
				out[k] = normalize(val)
			}
		case logrus.Fields:
			for k, val := range v {
				out[k] = normalize(val)
			}
		case string:
			if i+1 < len(fields) {
				out[v] = normalize(fields[i+1])
				i++
			} else {
				out["extra"] = v
			}
		default:
			out[fmt.Sprintf("arg%d", i)] = normalize(v)
		}
	}
	return out
}

// errors don't serialize through the JSON formatter
func normalize(v interface{}) interface{} {
	if err, ok := v.(error); ok && err != nil {
		return err.Error()
	}
	return v
}
