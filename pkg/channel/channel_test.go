package channel

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/toolwire/pkg/logging"
)

func TestPipeDeliversBothWays(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, []byte(`{"n":1}`)))
	require.NoError(t, b.Send(ctx, []byte(`{"n":2}`)))

	msg, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(msg))

	msg, err = a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"n":2}`, string(msg))
}

func TestPipeCopiesMessages(t *testing.T) {
	a, b := Pipe()
	buf := []byte("abc")
	require.NoError(t, a.Send(context.Background(), buf))
	buf[0] = 'X'

	msg, err := b.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", string(msg))
}

func TestPipeCloseEndsBothSides(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()
	require.NoError(t, a.Send(ctx, []byte("last")))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	msg, err := b.Receive(ctx)
	require.NoError(t, err, "buffered messages survive close")
	assert.Equal(t, "last", string(msg))

	_, err = b.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Send(ctx, []byte("x")), ErrClosed)
	assert.ErrorIs(t, a.Send(ctx, []byte("x")), ErrClosed)
}

func TestPipeReceiveHonoursContext(t *testing.T) {
	_, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamReadsLines(t *testing.T) {
	in := strings.NewReader("{\"a\":1}\n\n  {\"b\":2}  \n{\"c\":3}")
	s := NewStream(in, io.Discard)
	ctx := context.Background()

	var got []string
	for {
		msg, err := s.Receive(ctx)
		if errors.Is(err, ErrClosed) {
			break
		}
		require.NoError(t, err)
		got = append(got, string(msg))
	}
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}, got)
	assert.ErrorIs(t, s.Err(), io.EOF)
	assert.NoError(t, s.Wait())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStreamConcurrentWritesStayFramed(t *testing.T) {
	pr, _ := io.Pipe()
	out := &syncBuffer{}
	s := NewStream(pr, out)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"ping"}`)))
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 50)
	for _, line := range lines {
		assert.Equal(t, `{"jsonrpc":"2.0","method":"ping"}`, line)
	}
}

func TestStreamRejectsEmbeddedNewline(t *testing.T) {
	pr, _ := io.Pipe()
	s := NewStream(pr, io.Discard)
	defer s.Close()
	assert.Error(t, s.Send(context.Background(), []byte("a\nb")))
}

func TestStreamCloseUnblocksReader(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewStream(pr, io.Discard)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Receive(context.Background())
		errCh <- err
	}()

	require.NoError(t, s.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after Close")
	}
	assert.NoError(t, s.Wait())
	assert.ErrorIs(t, s.Send(context.Background(), []byte("x")), ErrClosed)
}

func TestStreamDiscardsOversizedMessage(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	dropped := make(chan int, 1)
	s := NewStream(pr, io.Discard, WithMaxMessageSize(10), WithOversizeHandler(func(size int) { dropped <- size }))
	defer s.Close()

	go func() {
		_, _ = io.WriteString(pw, strings.Repeat("x", 100)+"\n"+`{"a":1}`+"\n")
	}()

	msg, err := s.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(msg))
	assert.Equal(t, 100, <-dropped)
	assert.Equal(t, int64(1), s.Discarded())
	assert.NoError(t, s.Err(), "the stream stays open")
}

func TestStreamWarnsAboutDiscardedLines(t *testing.T) {
	prev := logging.GetGlobalLogger()
	defer logging.SetGlobalLogger(prev)
	out := &syncBuffer{}
	logging.SetGlobalLogger(logging.New(out, &logging.TextFormatter{}))

	in := strings.NewReader(strings.Repeat("x", 20) + "\n" + `{"a":1}` + "\n")
	s := NewStream(in, io.Discard, WithMaxMessageSize(10))

	msg, err := s.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(msg))
	assert.Contains(t, out.String(), "WARN  channel: inbound message over size limit discarded size=20 limit=10")
}

func TestReadLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		dropped []int
	}{
		{"at the limit", "0123456789\n", []string{"0123456789"}, []int{0}},
		{"one over", "0123456789a\nok\n", []string{"", "ok"}, []int{11, 0}},
		{"unterminated last line", "ab\ncd", []string{"ab", "cd"}, []int{0, 0}},
		{"unterminated and over", "0123456789ab", []string{""}, []int{12}},
		{"spans the reader buffer", strings.Repeat("y", 40) + "\nz\n", []string{"", "z"}, []int{40, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			br := bufio.NewReaderSize(strings.NewReader(tt.input), 16)
			for i := range tt.want {
				line, dropped, err := readLine(br, 10)
				require.NoError(t, err)
				assert.Equal(t, tt.want[i], string(line))
				assert.Equal(t, tt.dropped[i], dropped)
			}
			_, _, err := readLine(br, 10)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}
