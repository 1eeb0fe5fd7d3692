package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity levels.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses a string into a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// Format selects the line encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F creates a new Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// sink is shared by a logger and every child created with WithFields so
// level changes and the write lock apply to the whole family.
type sink struct {
	mu     sync.Mutex
	level  Level
	format Format
	output io.Writer
	now    func() time.Time
}

// StructuredLogger writes one JSON object or one key=value line per entry.
type StructuredLogger struct {
	sink   *sink
	fields []Field
}

type logEntry struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// New creates a logger. An empty format means JSON.
func New(level Level, format Format, output io.Writer) *StructuredLogger {
	if output == nil {
		output = os.Stderr
	}
	if format == "" {
		format = FormatJSON
	}
	return &StructuredLogger{
		sink: &sink{level: level, format: format, output: output, now: time.Now},
	}
}

// NewDefault creates a JSON logger with info level writing to stderr.
func NewDefault() *StructuredLogger {
	return New(LevelInfo, FormatJSON, os.Stderr)
}

func (l *StructuredLogger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *StructuredLogger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *StructuredLogger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *StructuredLogger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

// WithFields returns a child logger that prepends fields to every entry.
func (l *StructuredLogger) WithFields(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &StructuredLogger{sink: l.sink, fields: merged}
}

// SetLevel changes the log level for this logger and its children.
func (l *StructuredLogger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

func (l *StructuredLogger) log(level Level, msg string, fields []Field) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < s.level {
		return
	}

	entry := logEntry{
		Time:    s.now().UTC().Format(time.RFC3339),
		Level:   level.String(),
		Message: msg,
	}
	if n := len(l.fields) + len(fields); n > 0 {
		entry.Fields = make(map[string]any, n)
		for _, f := range l.fields {
			entry.Fields[f.Key] = f.Value
		}
		for _, f := range fields {
			entry.Fields[f.Key] = f.Value
		}
	}

	var line []byte
	if s.format == FormatText {
		line = encodeText(entry)
	} else {
		data, err := json.Marshal(entry)
		if err != nil {
			line = []byte(fmt.Sprintf("%s [%s] %s", entry.Time, entry.Level, msg))
		} else {
			line = data
		}
	}

	_, _ = s.output.Write(append(line, '\n'))
}

// encodeText renders time=... level=... msg="..." k=v with keys sorted.
func encodeText(e logEntry) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "time=%s level=%s msg=%q", e.Time, e.Level, e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(e.Fields[k])
		if strings.ContainsAny(v, " \t\"=") || v == "" {
			v = fmt.Sprintf("%q", v)
		}
		sb.WriteString(" ")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(v)
	}
	return []byte(sb.String())
}

// NopLogger is a logger that discards all output.
type NopLogger struct{}

func (NopLogger) Debug(msg string, fields ...Field) {}
func (NopLogger) Info(msg string, fields ...Field)  {}
func (NopLogger) Warn(msg string, fields ...Field)  {}
func (NopLogger) Error(msg string, fields ...Field) {}
func (NopLogger) WithFields(fields ...Field) Logger { return NopLogger{} }

// NewNop creates a no-op logger.
func NewNop() Logger {
	return NopLogger{}
}
