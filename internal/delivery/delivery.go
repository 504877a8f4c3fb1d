// Package delivery writes canonical entries, one JSON document per line, to
// the downstream consumer's input stream.
package delivery

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"pm2bunyan/internal/entry"
)

// ErrClosed is returned for writes after CloseWrite. The lifecycle stops all
// writers before closing, so seeing it means that ordering was broken.
var ErrClosed = errors.New("delivery channel closed")

// State of a Channel.
type State int

const (
	Open State = iota
	Writable
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Writable:
		return "writable"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Channel owns the stream; all writes go through one mutex so lines never
// interleave and leave in call order.
type Channel struct {
	mu        sync.Mutex
	w         io.WriteCloser
	state     State
	closeOnce sync.Once
	closeErr  error
}

// New wraps a stream that is ready to accept writes.
func New(w io.WriteCloser) *Channel {
	return &Channel{w: w, state: Writable}
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Write sends one serialized entry. A missing trailing newline is added.
func (c *Channel) Write(line []byte) error {
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line[:len(line):len(line)], '\n')
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Writable {
		return ErrClosed
	}
	if _, err := c.w.Write(line); err != nil {
		return fmt.Errorf("failed to write to downstream: %w", err)
	}
	return nil
}

// WriteEntry serializes e and writes it.
func (c *Channel) WriteEntry(e entry.Entry) error {
	b, err := entry.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	return c.Write(b)
}

// CloseWrite signals end of input to the downstream. It waits for an
// in-flight write and is safe to call more than once.
func (c *Channel) CloseWrite() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = Closing
		err := c.w.Close()
		c.state = Closed
		c.mu.Unlock()
		if err != nil {
			c.closeErr = fmt.Errorf("failed to close downstream input: %w", err)
		}
	})
	return c.closeErr
}
