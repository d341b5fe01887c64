package logger

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
)

// Entry is one line captured by a TestLogger
type Entry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

type entrySink struct {
	mu      sync.Mutex
	entries []Entry
}

// TestLogger captures log lines in memory and optionally mirrors them to t.Logf
type TestLogger struct {
	T      *testing.T
	fields map[string]interface{}
	sink   *entrySink
}

// NewTestLogger creates a new test logger
func NewTestLogger(t *testing.T) *TestLogger {
	return &TestLogger{T: t, fields: map[string]interface{}{}, sink: &entrySink{}}
}

func (l *TestLogger) log(level, msg string) {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	l.sink.mu.Lock()
	l.sink.entries = append(l.sink.entries, Entry{Level: level, Message: msg, Fields: fields})
	l.sink.mu.Unlock()

	if l.T != nil {
		l.T.Logf("[%s] %s%s", strings.ToUpper(level), msg, formatFields(fields))
	}
}

// Debug logs a debug message
func (l *TestLogger) Debug(msg string) { l.log("debug", msg) }

// Info logs an info message
func (l *TestLogger) Info(msg string) { l.log("info", msg) }

// Warn logs a warning message
func (l *TestLogger) Warn(msg string) { l.log("warn", msg) }

// Error logs an error message
func (l *TestLogger) Error(msg string) { l.log("error", msg) }

// Fatal records a fatal message without exiting
func (l *TestLogger) Fatal(msg string) { l.log("fatal", msg) }

// WithField returns a logger sharing the same capture with an extra field
func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a logger sharing the same capture with extra fields
func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &TestLogger{T: l.T, fields: merged, sink: l.sink}
}

// Entries returns a copy of every captured line
func (l *TestLogger) Entries() []Entry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	out := make([]Entry, len(l.sink.entries))
	copy(out, l.sink.entries)
	return out
}

// Messages returns the captured messages of one level
func (l *TestLogger) Messages(level string) []string {
	var out []string
	for _, e := range l.Entries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

// NewMockLogger creates a capturing logger for use in tests.
// Without a testing.T nothing is printed, which is safe for goroutines outliving the test.
func NewMockLogger(t ...*testing.T) *TestLogger {
	if len(t) > 0 {
		return NewTestLogger(t[0])
	}
	return NewTestLogger(nil)
}
