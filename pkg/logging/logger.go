// Package logging provides structured logging for the engine. Entries go to
// stderr by default because stdout is often the protocol channel itself.
//
// Loggers derived with WithFields, WithContext or WithError share their
// parent's output, formatter and level, so SetLevel on any of them applies
// to the whole family and writes from concurrent sessions never interleave.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcperrors "github.com/ajitpratap0/toolwire/pkg/errors"
)

// Level is the minimum severity a logger emits
type Level int

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	// FatalLevel entries are written and then the process exits
	FatalLevel
)

var levelNames = map[Level]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
	FatalLevel: "FATAL",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel parses a level name such as "debug" or "WARN". The empty
// string is InfoLevel.
func ParseLevel(name string) (Level, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	switch upper {
	case "":
		return InfoLevel, nil
	case "WARNING":
		return WarnLevel, nil
	}
	for level, n := range levelNames {
		if n == upper {
			return level, nil
		}
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// Keys the formatters lift out of the field list
const (
	keyRequestID = "request_id"
	keySessionID = "session_id"
	keyComponent = "component"
	keyOperation = "operation"
)

// Field is one key-value pair of an entry
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Int64(key string, value int64) Field            { return Field{key, value} }
func Bool(key string, value bool) Field              { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value} }
func Time(key string, value time.Time) Field         { return Field{key, value} }
func Any(key string, value interface{}) Field        { return Field{key, value} }

// ErrorField records err under the "error" key
func ErrorField(err error) Field { return Field{"error", err} }

// Logger is the structured logging interface used throughout the engine
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs and exits the process with status 1
	Fatal(msg string, fields ...Field)

	WithFields(fields ...Field) Logger
	// WithContext adds the request and session ids carried by ctx
	WithContext(ctx context.Context) Logger
	// WithError adds err and, for engine errors, its code and scope
	WithError(err error) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Entry is what a Formatter renders. Fields keep the order they were added
// in, with later duplicates replacing earlier ones in place.
type Entry struct {
	Time      time.Time
	Level     Level
	Message   string
	Component string
	Operation string
	SessionID string
	RequestID string
	Fields    []Field
}

// Formatter renders one entry, including the trailing newline
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

type sink struct {
	mu        sync.Mutex
	out       io.Writer
	formatter Formatter
	level     atomic.Int64
}

func (s *sink) write(e *Entry) {
	data, err := s.formatter.Format(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: format: %v\n", err)
		return
	}
	s.mu.Lock()
	_, err = s.out.Write(data)
	s.mu.Unlock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: write: %v\n", err)
	}
}

type logger struct {
	sink   *sink
	fields []Field
}

// New creates a logger writing to out at InfoLevel. A nil out is stderr
// and a nil formatter is NewTextFormatter().
func New(out io.Writer, formatter Formatter) Logger {
	if out == nil {
		out = os.Stderr
	}
	if formatter == nil {
		formatter = NewTextFormatter()
	}
	s := &sink{out: out, formatter: formatter}
	s.level.Store(int64(InfoLevel))
	return &logger{sink: s}
}

func (l *logger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *logger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *logger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *logger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

func (l *logger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields)
	os.Exit(1)
}

func (l *logger) SetLevel(level Level) { l.sink.level.Store(int64(level)) }
func (l *logger) GetLevel() Level      { return Level(l.sink.level.Load()) }

func (l *logger) WithFields(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	return &logger{sink: l.sink, fields: mergeFields(merged, fields)}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	var fields []Field
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, String(keyRequestID, id))
	}
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, String(keySessionID, id))
	}
	return l.WithFields(fields...)
}

func (l *logger) WithError(err error) Logger {
	fields := []Field{ErrorField(err)}
	mcpErr, ok := mcperrors.AsMCPError(err)
	if !ok {
		return l.WithFields(fields...)
	}

	fields = append(fields,
		Int("error_code", mcpErr.Code()),
		String("error_name", mcperrors.GetErrorCodeName(mcpErr.Code())),
		String("error_category", string(mcpErr.Category())),
	)
	scope := mcpErr.Scope()
	for _, f := range []Field{
		String(keyRequestID, scope.RequestID),
		String(keySessionID, scope.SessionID),
		String("method", scope.Method),
		String("tool", scope.Tool),
		String("caller_id", scope.CallerID),
	} {
		if f.Value != "" {
			fields = append(fields, f)
		}
	}
	return l.WithFields(fields...)
}

func (l *logger) log(level Level, msg string, fields []Field) {
	if level < l.GetLevel() {
		return
	}

	all := make([]Field, 0, len(l.fields)+len(fields))
	all = mergeFields(append(all, l.fields...), fields)

	e := &Entry{Time: time.Now(), Level: level, Message: msg, Fields: all[:0]}
	for _, f := range all {
		s, isString := f.Value.(string)
		switch {
		case isString && f.Key == keyRequestID:
			e.RequestID = s
		case isString && f.Key == keySessionID:
			e.SessionID = s
		case isString && f.Key == keyComponent:
			e.Component = s
		case isString && f.Key == keyOperation:
			e.Operation = s
		default:
			e.Fields = append(e.Fields, f)
		}
	}
	l.sink.write(e)
}

// mergeFields appends add to dst, replacing earlier fields of the same key
func mergeFields(dst, add []Field) []Field {
next:
	for _, f := range add {
		for i := range dst {
			if dst[i].Key == f.Key {
				dst[i] = f
				continue next
			}
		}
		dst = append(dst, f)
	}
	return dst
}

type contextKey int

const (
	requestIDKey contextKey = iota
	sessionIDKey
)

// ContextWithRequestID returns a context carrying the request id
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id carried by ctx, if any
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextWithSessionID returns a context carrying the session id
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext returns the session id carried by ctx, if any
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// Nop returns a logger that discards everything
func Nop() Logger {
	l := New(io.Discard, NewJSONFormatter())
	l.SetLevel(FatalLevel + 1)
	return l
}
