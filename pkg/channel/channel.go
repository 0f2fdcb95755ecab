// Package channel provides the duplex message channel a session runs over.
//
// A Channel carries whole messages. Framing belongs to the implementation:
// Pipe hands messages across in memory, Stream writes newline-delimited
// JSON over a byte stream such as stdio.
package channel

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send and Receive once the channel is closed
var ErrClosed = errors.New("channel closed")

// Channel is a duplex message channel. Send may be called concurrently;
// Receive is called from a single reader.
type Channel interface {
	// Send delivers one message. It fails with ErrClosed after Close.
	Send(ctx context.Context, msg []byte) error
	// Receive blocks for the next message. It returns ErrClosed once the
	// channel is closed from either side and no buffered message remains.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases the channel. It is safe to call more than once.
	Close() error
}

// pipeBuffer is the number of messages each direction of a Pipe buffers
const pipeBuffer = 16

type pipeConn struct {
	done chan struct{}
	once sync.Once
}

func (c *pipeConn) close() {
	c.once.Do(func() { close(c.done) })
}

type pipeEnd struct {
	conn *pipeConn
	in   <-chan []byte
	out  chan<- []byte
}

// Pipe returns two connected in-memory ends. Closing either end closes both.
func Pipe() (Channel, Channel) {
	conn := &pipeConn{done: make(chan struct{})}
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	return &pipeEnd{conn: conn, in: ba, out: ab}, &pipeEnd{conn: conn, in: ab, out: ba}
}

func (p *pipeEnd) Send(ctx context.Context, msg []byte) error {
	// checked first so a closed pipe never accepts a message into its buffer
	select {
	case <-p.conn.done:
		return ErrClosed
	default:
	}

	buf := make([]byte, len(msg))
	copy(buf, msg)
	select {
	case <-p.conn.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.out <- buf:
		return nil
	}
}

func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	default:
	}

	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.conn.done:
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.conn.close()
	return nil
}
