package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// ErrAlreadySubscribed is returned by a second Subscribe on a LineSubscriber.
var ErrAlreadySubscribed = errors.New("line subscriber supports a single subscription")

// LineSubscriber is a message.Subscriber that turns every non-blank line of
// a newline-delimited JSON stream into one message. It waits for each ack
// before reading on, so messages arrive in stream order; a nacked message
// is sent again.
type LineSubscriber struct {
	r      io.Reader
	logger watermill.LoggerAdapter

	mu         sync.Mutex
	subscribed bool
	closing    chan struct{}
	closeOnce  sync.Once
}

var _ message.Subscriber = (*LineSubscriber)(nil)

func NewLineSubscriber(r io.Reader, logger watermill.LoggerAdapter) *LineSubscriber {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &LineSubscriber{r: r, logger: logger, closing: make(chan struct{})}
}

// Subscribe starts reading. The topic only labels log output: the stream
// has a single topic.
func (s *LineSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return nil, ErrAlreadySubscribed
	}
	s.subscribed = true

	out := make(chan *message.Message)
	go s.read(ctx, topic, out)
	return out, nil
}

func (s *LineSubscriber) read(ctx context.Context, topic string, out chan<- *message.Message) {
	defer close(out)
	fields := watermill.LogFields{"topic": topic}

	reader := bufio.NewReader(s.r)
	for {
		line, err := reader.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			if !s.deliver(ctx, out, line) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("Upstream event stream ended", fields)
			} else {
				s.logger.Error("Failed to read upstream event stream", err, fields)
			}
			return
		}
	}
}

func (s *LineSubscriber) deliver(ctx context.Context, out chan<- *message.Message, line []byte) bool {
	for {
		msg := message.NewMessage(watermill.NewUUID(), append([]byte(nil), line...))

		select {
		case out <- msg:
		case <-ctx.Done():
			return false
		case <-s.closing:
			return false
		}

		select {
		case <-msg.Acked():
			return true
		case <-msg.Nacked():
			continue
		case <-ctx.Done():
			return false
		case <-s.closing:
			return false
		}
	}
}

// Close stops delivery. A read blocked on the underlying reader returns only
// when that reader does.
func (s *LineSubscriber) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	return nil
}
