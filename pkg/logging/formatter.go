package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TextFormatter renders one line per entry:
//
//	2026-01-02T15:04:05.000Z INFO  dispatch/invoke: tool finished tool=echo session=0f8fad5b request=#3
//
// Fields follow the message in the order they were added. Session ids are
// shortened to their first uuid group.
type TextFormatter struct {
	// TimeLayout formats the leading timestamp; empty omits it
	TimeLayout string
	// Colors wraps the level in ANSI color codes
	Colors bool
}

// NewTextFormatter returns a TextFormatter with millisecond timestamps and
// no colors
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{TimeLayout: "2006-01-02T15:04:05.000Z07:00"}
}

var levelColors = map[Level]string{
	DebugLevel: "\033[90m",
	InfoLevel:  "\033[34m",
	WarnLevel:  "\033[33m",
	ErrorLevel: "\033[31m",
	FatalLevel: "\033[31m",
}

func (f *TextFormatter) Format(e *Entry) ([]byte, error) {
	var b bytes.Buffer
	if f.TimeLayout != "" {
		b.WriteString(e.Time.Format(f.TimeLayout))
		b.WriteByte(' ')
	}

	level := fmt.Sprintf("%-5s", e.Level)
	if color, ok := levelColors[e.Level]; ok && f.Colors {
		level = color + level + "\033[0m"
	}
	b.WriteString(level)
	b.WriteByte(' ')

	switch {
	case e.Component != "" && e.Operation != "":
		b.WriteString(e.Component + "/" + e.Operation + ": ")
	case e.Component != "":
		b.WriteString(e.Component + ": ")
	case e.Operation != "":
		b.WriteString(e.Operation + ": ")
	}
	b.WriteString(e.Message)

	for _, field := range e.Fields {
		writePair(&b, field.Key, textValue(field.Value))
	}
	if e.SessionID != "" {
		writePair(&b, "session", shortID(e.SessionID))
	}
	if e.RequestID != "" {
		writePair(&b, "request", e.RequestID)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func writePair(b *bytes.Buffer, key, value string) {
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
}

func textValue(v interface{}) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case error:
		s = val.Error()
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case fmt.Stringer:
		s = val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
	if s == "" || strings.ContainsAny(s, " =\"\n\t") {
		return strconv.Quote(s)
	}
	return s
}

// shortID trims a uuid to its first group
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// JSONFormatter renders one JSON object per line. The keys time, level and
// msg come first, then component, operation, session_id and request_id when
// set, then the fields in insertion order. Errors are rendered as their
// message and durations as fractional milliseconds.
type JSONFormatter struct {
	// TimeLayout formats the time key; empty omits it
	TimeLayout string
}

// NewJSONFormatter returns a JSONFormatter with RFC 3339 timestamps
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{TimeLayout: time.RFC3339Nano}
}

func (f *JSONFormatter) Format(e *Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	first := true
	put := func(key string, value interface{}) error {
		k, _ := json.Marshal(key)
		raw, err := json.Marshal(jsonValue(value))
		if err != nil {
			return fmt.Errorf("log field %q: %w", key, err)
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.Write(k)
		b.WriteByte(':')
		b.Write(raw)
		return nil
	}

	head := []Field{}
	if f.TimeLayout != "" {
		head = append(head, Field{"time", e.Time.Format(f.TimeLayout)})
	}
	head = append(head, Field{"level", strings.ToLower(e.Level.String())}, Field{"msg", e.Message})
	for _, opt := range []Field{
		{keyComponent, e.Component},
		{keyOperation, e.Operation},
		{keySessionID, e.SessionID},
		{keyRequestID, e.RequestID},
	} {
		if opt.Value != "" {
			head = append(head, opt)
		}
	}

	for _, field := range append(head, e.Fields...) {
		if err := put(field.Key, field.Value); err != nil {
			return nil, err
		}
	}
	b.WriteString("}\n")
	return b.Bytes(), nil
}

func jsonValue(v interface{}) interface{} {
	switch val := v.(type) {
	case error:
		return val.Error()
	case time.Duration:
		return float64(val) / float64(time.Millisecond)
	default:
		return v
	}
}
