package channel

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/toolwire/pkg/logging"
)

// DefaultMaxMessageSize bounds one framed message
const DefaultMaxMessageSize = 4 << 20

// StreamOption configures a Stream
type StreamOption func(*Stream)

// WithMaxMessageSize sets the longest line the reader accepts
func WithMaxMessageSize(n int) StreamOption {
	return func(s *Stream) {
		s.maxMessage = n
	}
}

// WithOversizeHandler sets the function told about each discarded line and
// its length. The default logs a warning through the global logger.
func WithOversizeHandler(fn func(size int)) StreamOption {
	return func(s *Stream) {
		s.oversize = fn
	}
}

// Stream frames messages as newline-delimited JSON over a byte stream
type Stream struct {
	w          *bufio.Writer
	closer     io.Closer
	maxMessage int
	oversize   func(size int)
	discarded  atomic.Int64

	writeMu sync.Mutex

	incoming chan []byte
	done     chan struct{}
	stopOnce sync.Once

	group *errgroup.Group

	errMu sync.Mutex
	err   error
}

// NewStream starts reading r in the background. Each line read is one
// message; empty lines are skipped. A line longer than the maximum message
// size is discarded and reading continues with the next one. If r or w
// implement io.Closer they are closed by Close.
func NewStream(r io.Reader, w io.Writer, options ...StreamOption) *Stream {
	s := &Stream{
		w:          bufio.NewWriter(w),
		maxMessage: DefaultMaxMessageSize,
		incoming:   make(chan []byte),
		done:       make(chan struct{}),
	}
	for _, option := range options {
		option(s)
	}
	if s.oversize == nil {
		limit := s.maxMessage
		s.oversize = func(size int) {
			logging.Warn("inbound message over size limit discarded",
				logging.String("component", "channel"),
				logging.Int("size", size),
				logging.Int("limit", limit))
		}
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}

	g, gctx := errgroup.WithContext(context.Background())
	s.group = g
	readerDone := make(chan struct{})

	g.Go(func() error {
		defer close(readerDone)
		br := bufio.NewReaderSize(r, min(64*1024, s.maxMessage+1))
		var err error
		for {
			var (
				line    []byte
				dropped int
			)
			if line, dropped, err = readLine(br, s.maxMessage); err != nil {
				break
			}
			if dropped > 0 {
				s.discarded.Add(1)
				s.oversize(dropped)
				continue
			}
			if line = bytes.TrimSpace(line); len(line) == 0 {
				continue
			}
			select {
			case s.incoming <- line:
			case <-s.done:
				return nil
			}
		}
		select {
		case <-s.done:
			// closed locally; the read error is the close itself
			return nil
		default:
		}
		s.stop(fmt.Errorf("read: %w", err))
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		select {
		case <-s.done:
			// unblock the reader
			if c, ok := r.(io.Closer); ok {
				_ = c.Close()
			}
		case <-readerDone:
		case <-gctx.Done():
		}
		return nil
	})

	return s
}

// Send writes msg followed by a newline and flushes
func (s *Stream) Send(ctx context.Context, msg []byte) error {
	if bytes.IndexByte(msg, '\n') >= 0 {
		return errors.New("message contains a raw newline")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	if _, err := s.w.Write(msg); err != nil {
		s.stop(fmt.Errorf("write: %w", err))
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		s.stop(fmt.Errorf("write: %w", err))
		return err
	}
	if err := s.w.Flush(); err != nil {
		s.stop(fmt.Errorf("flush: %w", err))
		return err
	}
	return nil
}

// Receive returns the next message
func (s *Stream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-s.incoming:
		return msg, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the reader and closes the underlying streams
func (s *Stream) Close() error {
	s.stop(ErrClosed)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Discarded returns how many inbound lines were dropped for exceeding the
// maximum message size
func (s *Stream) Discarded() int64 { return s.discarded.Load() }

// Err returns why the stream stopped, or nil while it is open. A clean end
// of input is reported as io.EOF.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Wait blocks until the reader goroutines exit and returns the read error,
// if any. An end of input is not an error.
func (s *Stream) Wait() error {
	return s.group.Wait()
}

func (s *Stream) stop(cause error) {
	s.stopOnce.Do(func() {
		s.errMu.Lock()
		s.err = cause
		s.errMu.Unlock()
		close(s.done)
	})
}

// readLine returns the next line without its newline, in a buffer the
// caller owns. A line longer than limit is consumed without being kept;
// its length is returned as dropped with a nil line. An unterminated last
// line is returned before io.EOF.
func readLine(br *bufio.Reader, limit int) ([]byte, int, error) {
	var (
		line []byte
		size int
		over bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		size += len(chunk)
		if !over && len(line)+len(chunk) <= limit+1 {
			line = append(line, chunk...)
		} else {
			over, line = true, nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && (!errors.Is(err, io.EOF) || size == 0) {
			return nil, 0, err
		}
		if n := len(chunk); n > 0 && chunk[n-1] == '\n' {
			size--
			line = line[:max(len(line)-1, 0)]
		}
		if over || size > limit {
			return nil, size, nil
		}
		if line == nil {
			line = []byte{}
		}
		return line, 0, nil
	}
}
