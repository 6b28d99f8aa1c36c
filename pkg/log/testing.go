package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// TestLogger records JSON lines in memory through the same zerolog encoder as
// NewZerologLogger, so tests see the field names and error encoding that
// production logs use. Loggers derived with With share the buffer.
type TestLogger struct {
	Logger
	sink *lockedBuffer
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewTestLogger returns a logger that drops records below level, and the
// buffer it writes to.
//
//	logger, buffer := log.NewTestLogger(log.LevelDebug)
//	model.New(desc, model.WithLogger(logger))
//	assert.Contains(t, buffer.String(), "model loaded")
func NewTestLogger(level Level) (*TestLogger, *bytes.Buffer) {
	sink := &lockedBuffer{buf: &bytes.Buffer{}}
	zl := zerolog.New(sink).Level(toZerologLevel(level))
	return &TestLogger{Logger: &zerologLogger{zl: zl}, sink: sink}, sink.buf
}

// With keeps the result a *TestLogger on the same buffer.
func (t *TestLogger) With(fields ...any) Logger {
	return &TestLogger{Logger: t.Logger.With(fields...), sink: t.sink}
}

// GetLogEntries decodes every recorded line.
func (t *TestLogger) GetLogEntries() ([]map[string]interface{}, error) {
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(t.sink.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ContainsMessage reports whether any record contains text.
func (t *TestLogger) ContainsMessage(text string) bool {
	return strings.Contains(t.sink.String(), text)
}

// ContainsField reports whether any record has key set to value. JSON numbers
// decode as float64.
func (t *TestLogger) ContainsField(key string, value interface{}) bool {
	entries, err := t.GetLogEntries()
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if v, ok := entry[key]; ok && v == value {
			return true
		}
	}
	return false
}

// Clear drops everything recorded so far.
func (t *TestLogger) Clear() {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	t.sink.buf.Reset()
}
