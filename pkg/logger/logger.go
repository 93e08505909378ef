package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

type LogLevel string

const (
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

type LogFields map[string]interface{}

type Logger interface {
	WithFields(fields LogFields) Logger

	Info(action, message string)
	Debug(action, message string)
	Warn(action, message string)
	Error(action string, err error)
}

// jsonLogger writes one JSON object per line. One instance per component
// (e.g. "relay", "transport-client"); WithFields derives scoped children.
type jsonLogger struct {
	mu         *sync.Mutex
	out        io.Writer
	component  string
	hostname   string
	baseFields LogFields
}

type logEntry struct {
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Component string   `json:"component"`
	Action    string   `json:"action"`
	Message   string   `json:"message"`
	Hostname  string   `json:"hostname"`
	RideID    string   `json:"ride_id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	SessionID string   `json:"session_id,omitempty"`

	Error *errorEntry `json:"error,omitempty"`

	Fields LogFields `json:"fields,omitempty"`
}

type errorEntry struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack"`
}

// NewLogger creates a structured JSON logger for a named component.
func NewLogger(component string) Logger {
	return NewLoggerTo(component, os.Stdout)
}

// NewLoggerTo is NewLogger with an explicit destination, used by tests.
func NewLoggerTo(component string, out io.Writer) Logger {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &jsonLogger{
		mu:         &sync.Mutex{},
		out:        out,
		component:  component,
		hostname:   host,
		baseFields: make(LogFields),
	}
}

// WithFields returns a child logger that carries the merged fields on every
// entry. The receiver is not modified.
func (l *jsonLogger) WithFields(fields LogFields) Logger {
	merged := make(LogFields, len(l.baseFields)+len(fields))
	for k, v := range l.baseFields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &jsonLogger{
		mu:         l.mu,
		out:        l.out,
		component:  l.component,
		hostname:   l.hostname,
		baseFields: merged,
	}
}

func (l *jsonLogger) Info(action, message string) {
	l.log(LevelInfo, action, message, nil)
}

func (l *jsonLogger) Debug(action, message string) {
	l.log(LevelDebug, action, message, nil)
}

func (l *jsonLogger) Warn(action, message string) {
	l.log(LevelWarn, action, message, nil)
}

// Error logs an error with a cleaned stack trace.
func (l *jsonLogger) Error(action string, err error) {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	errData := &errorEntry{
		Msg:   err.Error(),
		Stack: cleanStack(string(buf[:n])),
	}
	l.log(LevelError, action, err.Error(), errData)
}

func (l *jsonLogger) log(level LogLevel, action, message string, errData *errorEntry) {
	entry := &logEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Component: l.component,
		Action:    action,
		Message:   message,
		Hostname:  l.hostname,
		Error:     errData,
		Fields:    make(LogFields),
	}

	for k, v := range l.baseFields {
		switch k {
		case "ride_id":
			if id, ok := v.(string); ok {
				entry.RideID = id
			}
		case "user_id":
			if id, ok := v.(string); ok {
				entry.UserID = id
			}
		case "session_id":
			if id, ok := v.(string); ok {
				entry.SessionID = id
			}
		default:
			entry.Fields[k] = v
		}
	}

	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(line))
}

// cleanStack strips runtime and testing frames from a stack trace.
func cleanStack(stack string) string {
	lines := strings.Split(stack, "\n")
	var cleaned []string

	if len(lines) > 0 {
		cleaned = append(cleaned, lines[0])
	}

	for i := 1; i < len(lines); i += 2 {
		if i+1 >= len(lines) {
			break
		}

		funcName := lines[i]
		filePath := lines[i+1]

		if strings.HasPrefix(funcName, "runtime.") ||
			strings.HasPrefix(funcName, "testing.") ||
			strings.Contains(funcName, "logger.(*jsonLogger)") ||
			strings.Contains(filePath, "runtime/panic.go") {
			continue
		}

		cleaned = append(cleaned, funcName, "    "+strings.TrimSpace(filePath))
	}

	return strings.Join(cleaned, "\n")
}

// Nop returns a logger that discards everything. Default for library callers
// that don't care about transport internals.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) WithFields(LogFields) Logger { return nopLogger{} }
func (nopLogger) Info(string, string)         {}
func (nopLogger) Debug(string, string)        {}
func (nopLogger) Warn(string, string)         {}
func (nopLogger) Error(string, error)         {}
