package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/toolwire/pkg/errors"
)

func plainText() *TextFormatter { return &TextFormatter{} }

func TestTextLayout(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, plainText())
	logger.SetLevel(DebugLevel)

	logger.Debug("Debug message", String("key", "value"))
	logger.Info("Info message", Int("count", 42))
	logger.Warn("Warning message", Bool("flag", true))
	logger.Error("Error message", ErrorField(errors.New("test error")))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"DEBUG Debug message key=value",
		"INFO  Info message count=42",
		"WARN  Warning message flag=true",
		`ERROR Error message error="test error"`,
	}, lines)
}

func TestTextHeaderAndIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, plainText()).WithFields(String("component", "dispatch"))

	ctx := ContextWithRequestID(context.Background(), "#17")
	ctx = ContextWithSessionID(ctx, "0f8fad5b-d9cb-469f-a165-70867728950e")
	logger.WithContext(ctx).Info("call finished", String("operation", "invoke"), Duration("took", 1500*time.Millisecond))

	assert.Equal(t, "INFO  dispatch/invoke: call finished took=1.5s session=0f8fad5b request=#17\n", buf.String())
}

func TestTextTimestampAndColors(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, &TextFormatter{TimeLayout: time.RFC3339, Colors: true})
	logger.Warn("hot")

	out := buf.String()
	assert.Contains(t, out, "\033[33mWARN \033[0m hot")
	ts, err := time.Parse(time.RFC3339, strings.Fields(out)[0])
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())
	logger.SetLevel(WarnLevel)

	logger.Debug("Debug message")
	logger.Info("Info message")
	logger.Warn("Warning message")
	logger.Error("Error message")

	output := buf.String()
	assert.NotContains(t, output, "Debug message")
	assert.NotContains(t, output, "Info message")
	assert.Contains(t, output, "Warning message")
	assert.Contains(t, output, "Error message")
	assert.Equal(t, WarnLevel, logger.GetLevel())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{" error ", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestWithFieldsKeepsOrderAndReplaces(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, plainText()).WithFields(
		String("service", "toolwire"),
		String("version", "1.0.0"),
	)
	child := base.WithFields(String("version", "2.0.0"), String("tool", "echo"))

	child.Info("first")
	base.Info("second")

	assert.Equal(t,
		"INFO  first service=toolwire version=2.0.0 tool=echo\n"+
			"INFO  second service=toolwire version=1.0.0\n",
		buf.String())
}

func TestDerivedLoggersShareLevel(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, plainText())
	child := root.WithFields(String("component", "session"))

	child.SetLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, root.GetLevel())

	root.Warn("dropped")
	child.Error("kept")
	assert.Equal(t, "ERROR session: kept\n", buf.String())
}

func TestTextQuoting(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, plainText()).Info("q",
		String("empty", ""),
		String("eq", "a=b"),
		String("plain", "path/to/file"))
	assert.Equal(t, `INFO  q empty="" eq="a=b" plain=path/to/file`+"\n", buf.String())
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, plainText())

	err := mcperrors.SandboxViolation("../secret", "/srv", "escapes root").
		WithScope(&mcperrors.Scope{RequestID: "req-123", Tool: "read_file"})

	logger.WithError(err).Error("Call rejected")

	output := buf.String()
	assert.Contains(t, output, "error=")
	assert.Contains(t, output, "error_code=-32040")
	assert.Contains(t, output, "error_name=SandboxViolation")
	assert.Contains(t, output, "error_category=sandbox")
	assert.Contains(t, output, "tool=read_file")
	assert.NotContains(t, output, "caller_id=")
	assert.True(t, strings.HasSuffix(output, " request=req-123\n"), output)
}

func TestWithPlainError(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, plainText()).WithError(errors.New("eof")).Warn("read failed")
	assert.Equal(t, "WARN  read failed error=eof\n", buf.String())
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewJSONFormatter())

	now := time.Now()
	logger.Info("Test fields",
		String("string", "value"),
		Int("int", 42),
		Int64("int64", 7),
		Bool("bool", true),
		Duration("duration", 1500*time.Microsecond),
		Time("time_field", now),
		Any("any", map[string]int{"a": 1}),
		ErrorField(errors.New("test error")),
	)

	var entry map[string]interface{}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "Test fields", entry["msg"])
	assert.Equal(t, "value", entry["string"])
	assert.Equal(t, float64(42), entry["int"])
	assert.Equal(t, float64(7), entry["int64"])
	assert.Equal(t, true, entry["bool"])
	assert.Equal(t, "test error", entry["error"])
	assert.Equal(t, 1.5, entry["duration"])
	assert.IsType(t, "", entry["time_field"])
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, entry["any"])
	assert.Contains(t, entry, "time")
}

func TestJSONKeyOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, &JSONFormatter{}).WithFields(String("component", "session"), String("z", "last"))
	logger.WithContext(ContextWithSessionID(context.Background(), "s-1")).Warn("closing", Int("a", 1))

	assert.Equal(t,
		`{"level":"warn","msg":"closing","component":"session","session_id":"s-1","z":"last","a":1}`+"\n",
		buf.String())
}

func TestPrintlnAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, plainText())

	NewPrintlnAdapter(logger, ErrorLevel, "metrics").Println("error gathering", "collector")
	NewPrintlnAdapter(logger, WarnLevel, "metrics").Printf("retry %d", 2)

	assert.Equal(t, "ERROR metrics: error gathering collector\nWARN  metrics: retry 2\n", buf.String())
}

func TestWrapHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())
	logger.SetLevel(DebugLevel)

	var seen string
	handler := WrapHandler(logger, "tools/call", func(ctx context.Context, n int) (int, error) {
		seen = RequestIDFromContext(ctx)
		if n < 0 {
			return 0, mcperrors.InvalidParamsf("negative")
		}
		return n * 2, nil
	})

	out, err := handler(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.NotEmpty(t, seen, "request id should be generated")

	_, err = handler(ContextWithRequestID(context.Background(), "fixed"), -1)
	require.Error(t, err)
	assert.Equal(t, "fixed", seen)
	assert.Contains(t, buf.String(), "WARN  tools/call: operation failed")
	assert.Contains(t, buf.String(), "request=fixed")
}

func TestGenerators(t *testing.T) {
	a, b := UUIDGenerator{}.Generate(), UUIDGenerator{}.Generate()
	assert.NotEqual(t, a, b)

	p := &PrefixedGenerator{Prefix: "srv"}
	assert.True(t, strings.HasPrefix(p.Generate(), "srv-"))
}

func TestGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	var buf bytes.Buffer
	SetGlobalLogger(New(&buf, NewTextFormatter()))

	Warn("line dropped", String("component", "channel"), Int("size", 12))
	assert.Contains(t, buf.String(), "WARN  channel: line dropped size=12")
}

func TestNop(t *testing.T) {
	Nop().Error("nothing")
	assert.Greater(t, Nop().GetLevel(), FatalLevel)
}

func TestConcurrentWritesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, plainText())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l := root.WithFields(Int("worker", n))
			for j := 0; j < 50; j++ {
				l.Info("tick")
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 400)
	for _, line := range lines {
		assert.Regexp(t, `^INFO  tick worker=\d$`, line)
	}
}
