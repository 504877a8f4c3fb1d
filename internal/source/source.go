// Package source adapts upstream event feeds to the router. The process
// manager's bus is modelled as a watermill message.Subscriber so any
// watermill transport can feed the pipeline.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"

	"pm2bunyan/internal/event"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Topic carries every log-class bus event.
const Topic = "log"

// Handler receives one log event together with its channel.
type Handler func(channel string, ev event.RawEvent)

// Source delivers upstream log events. Run calls ready once subscribed, then
// handle for every log event, and returns when the feed ends or ctx is done.
// handle is never called after Run returns.
type Source interface {
	Run(ctx context.Context, ready func(), handle Handler) error
}

// Bus reads log events from a watermill subscriber.
type Bus struct {
	Subscriber message.Subscriber
	Topic      string
}

var _ Source = (*Bus)(nil)

// NewBus returns a Bus on topic (Topic when empty).
func NewBus(sub message.Subscriber, topic string) *Bus {
	if topic == "" {
		topic = Topic
	}
	return &Bus{Subscriber: sub, Topic: topic}
}

func (b *Bus) Run(ctx context.Context, ready func(), handle Handler) error {
	messages, err := b.Subscriber.Subscribe(ctx, b.Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", b.Topic, err)
	}
	if ready != nil {
		ready()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.dispatch(msg, handle)
		}
	}
}

func (b *Bus) dispatch(msg *message.Message, handle Handler) {
	// Malformed messages are acked too; redelivering them cannot help.
	defer msg.Ack()

	ev, err := event.Decode(msg.Payload)
	if errors.Is(err, event.ErrNotLog) {
		slog.Debug("ignoring non-log bus event", "uuid", msg.UUID, "error", err)
		return
	}
	if err != nil {
		slog.Warn("dropping malformed upstream event", "uuid", msg.UUID, "error", err)
		return
	}
	handle(ev.Channel, ev)
}

// Open opens the raw upstream feed: "-" is stdin, "unix:/path" dials a unix
// socket, anything else is a file path.
func Open(spec string) (io.ReadCloser, error) {
	switch {
	case spec == "" || spec == "-":
		return io.NopCloser(os.Stdin), nil
	case strings.HasPrefix(spec, "unix:"):
		path := strings.TrimPrefix(strings.TrimPrefix(spec, "unix:"), "//")
		conn, err := net.Dial("unix", path)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
		}
		return conn, nil
	default:
		f, err := os.Open(spec)
		if err != nil {
			return nil, fmt.Errorf("failed to open event source: %w", err)
		}
		return f, nil
	}
}
