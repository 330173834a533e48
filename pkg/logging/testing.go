package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// Entry is one captured JSON log line.
type Entry map[string]any

// Level returns the entry's level field.
func (e Entry) Level() string {
	s, _ := e[zerolog.LevelFieldName].(string)
	return s
}

// Message returns the entry's message field.
func (e Entry) Message() string {
	s, _ := e[zerolog.MessageFieldName].(string)
	return s
}

// Str returns a string field, or "" when the field is missing.
func (e Entry) Str(key string) string {
	s, _ := e[key].(string)
	return s
}

// TestLogger captures everything logged through it for assertions.
type TestLogger struct {
	*zerolog.Logger

	mu  sync.Mutex
	buf *bytes.Buffer
}

// lockedWriter serializes writes from parallel engine workers.
type lockedWriter struct{ tl *TestLogger }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.tl.mu.Lock()
	defer w.tl.mu.Unlock()
	return w.tl.buf.Write(p)
}

// NewTestLogger creates a trace-level JSON logger that captures its output.
// The global level is restored when the test ends.
func NewTestLogger(t testing.TB) *TestLogger {
	t.Helper()

	oldLevel := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(oldLevel) })

	tl := &TestLogger{buf: &bytes.Buffer{}}
	logger := zerolog.New(lockedWriter{tl}).
		Level(zerolog.TraceLevel).
		With().
		Timestamp().
		Logger()
	tl.Logger = &logger
	return tl
}

// Context returns ctx carrying the test logger, for code that logs through
// FromContext.
func (tl *TestLogger) Context(ctx context.Context) context.Context {
	return WithLogger(ctx, tl.Logger)
}

// Output returns the captured log output as a string.
func (tl *TestLogger) Output() string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.buf.String()
}

// Entries parses the captured output. Lines that are not JSON are skipped.
func (tl *TestLogger) Entries() []Entry {
	var entries []Entry
	scanner := bufio.NewScanner(strings.NewReader(tl.Output()))
	for scanner.Scan() {
		var e Entry
		if json.Unmarshal(scanner.Bytes(), &e) == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

// Find returns every entry with the given message.
func (tl *TestLogger) Find(msg string) []Entry {
	var out []Entry
	for _, e := range tl.Entries() {
		if e.Message() == msg {
			out = append(out, e)
		}
	}
	return out
}

// Contains checks if the log output contains the given string.
func (tl *TestLogger) Contains(substr string) bool {
	return strings.Contains(tl.Output(), substr)
}

// Clear clears the captured log output.
func (tl *TestLogger) Clear() {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.buf.Reset()
}

// AssertContains asserts that the log contains the given string.
func (tl *TestLogger) AssertContains(t testing.TB, substr string) {
	t.Helper()
	if !tl.Contains(substr) {
		t.Errorf("log output does not contain %q\noutput:\n%s", substr, tl.Output())
	}
}

// AssertLogged asserts that msg was logged at level at least once.
func (tl *TestLogger) AssertLogged(t testing.TB, level zerolog.Level, msg string) {
	t.Helper()
	for _, e := range tl.Find(msg) {
		if e.Level() == level.String() {
			return
		}
	}
	t.Errorf("no %s entry with message %q\noutput:\n%s", level, msg, tl.Output())
}

// DisableLoggingForTest replaces the default logger with a no-op logger for
// the duration of a test.
func DisableLoggingForTest(t testing.TB) {
	t.Helper()
	original := *Default()
	SetDefault(zerolog.Nop())
	t.Cleanup(func() { SetDefault(original) })
}

// CaptureLoggingForTest installs a TestLogger as the default logger for the
// duration of a test.
func CaptureLoggingForTest(t testing.TB) *TestLogger {
	t.Helper()
	original := *Default()
	tl := NewTestLogger(t)
	SetDefault(*tl.Logger)
	t.Cleanup(func() { SetDefault(original) })
	return tl
}
