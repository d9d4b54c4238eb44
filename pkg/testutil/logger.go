package testutil

import (
	"context"
	"sync"

	"github.com/nimburion/docservice/pkg/observability/logger"
)

// MockLogger captures log entries for assertion in tests. Child loggers
// share the parent's entries and prepend their fields.
type MockLogger struct {
	mu     *sync.Mutex
	logs   *[]LogEntry
	fields []any
}

// LogEntry represents a single log entry captured by MockLogger.
type LogEntry struct {
	Level  string
	Msg    string
	Fields map[string]interface{}
}

// NewMockLogger creates an empty MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{mu: &sync.Mutex{}, logs: &[]LogEntry{}}
}

func (m *MockLogger) record(level, msg string, args []any) {
	all := append(append([]any{}, m.fields...), args...)
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.logs = append(*m.logs, LogEntry{Level: level, Msg: msg, Fields: argsToMap(all)})
}

func (m *MockLogger) Debug(msg string, args ...any) { m.record("debug", msg, args) }
func (m *MockLogger) Info(msg string, args ...any)  { m.record("info", msg, args) }
func (m *MockLogger) Warn(msg string, args ...any)  { m.record("warn", msg, args) }
func (m *MockLogger) Error(msg string, args ...any) { m.record("error", msg, args) }

// With returns a child logger carrying args.
func (m *MockLogger) With(args ...any) logger.Logger {
	return &MockLogger{mu: m.mu, logs: m.logs, fields: append(append([]any{}, m.fields...), args...)}
}

// WithContext returns the same logger.
func (m *MockLogger) WithContext(ctx context.Context) logger.Logger {
	return m
}

// Logs returns a copy of the captured entries.
func (m *MockLogger) Logs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), *m.logs...)
}

// Find returns the first entry with msg.
func (m *MockLogger) Find(msg string) (LogEntry, bool) {
	for _, e := range m.Logs() {
		if e.Msg == msg {
			return e, true
		}
	}
	return LogEntry{}, false
}

func argsToMap(args []any) map[string]interface{} {
	fields := make(map[string]interface{}, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	return fields
}
