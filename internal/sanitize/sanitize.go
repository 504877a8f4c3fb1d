// Package sanitize turns raw process-manager log events into canonical
// entries.
package sanitize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"pm2bunyan/internal/entry"
	"pm2bunyan/internal/event"
	"pm2bunyan/internal/jsoncodec"
	"pm2bunyan/internal/metrics"
	"pm2bunyan/internal/pidfile"
)

// ErrMissingData is returned when an event carries no payload at all.
var ErrMissingData = errors.New("missing data")

// Resolver completes entries that lack a pid.
type Resolver interface {
	Resolve(ctx context.Context, e entry.Entry, proc event.ProcessMeta) *pidfile.Pending
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithMetrics counts synthesized entries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sanitizer) { s.metrics = m }
}

// WithLogger sets the logger used for diagnostics. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Sanitizer) { s.logger = l }
}

// Sanitizer holds no per-event state; process metadata travels with each call.
type Sanitizer struct {
	hostname string
	resolver Resolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New returns a Sanitizer stamping hostname on entries that do not have one.
func New(hostname string, resolver Resolver, opts ...Option) *Sanitizer {
	s := &Sanitizer{hostname: hostname, resolver: resolver}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// payload is the extracted event data: raw text, or any other JSON value.
type payload struct {
	text   string
	isText bool
	raw    json.RawMessage
}

func (p payload) missing() bool {
	if p.isText {
		return p.text == ""
	}
	switch string(bytes.TrimSpace(p.raw)) {
	case "", "null", "false", "0":
		return true
	}
	return false
}

func (p payload) bytes() []byte {
	if p.isText {
		return []byte(p.text)
	}
	return p.raw
}

// String is the payload as message text; non-text JSON stays JSON-encoded.
func (p payload) String() string {
	if p.isText {
		return p.text
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, p.raw); err != nil {
		return string(p.raw)
	}
	return compact.String()
}

// extract prefers a wrapped "str" field, then the payload itself.
func extract(ev event.RawEvent) payload {
	data := bytes.TrimSpace(ev.Data)
	if len(data) == 0 || string(data) == "null" {
		if ev.Str != nil {
			return payload{text: *ev.Str, isText: true}
		}
		return payload{}
	}

	var text string
	if err := jsoncodec.Unmarshal(data, &text); err == nil {
		return payload{text: text, isText: true}
	}

	if data[0] == '{' {
		var wrapped struct {
			Str *string `json:"str"`
		}
		if err := jsoncodec.Unmarshal(data, &wrapped); err == nil && wrapped.Str != nil {
			return payload{text: *wrapped.Str, isText: true}
		}
	}
	return payload{raw: data}
}

// Sanitize converts one event into its entries, in source line order. Entries
// without a pid are handed to the resolver and complete asynchronously.
func (s *Sanitizer) Sanitize(ctx context.Context, channel string, ev event.RawEvent) ([]*pidfile.Pending, error) {
	if ev.At == 0 {
		// one timestamp for every line split out of this event
		ev.At = float64(time.Now().UnixMilli()) / 1000
	}
	return s.sanitize(ctx, channel, ev, extract(ev))
}

func (s *Sanitizer) sanitize(ctx context.Context, channel string, ev event.RawEvent, data payload) ([]*pidfile.Pending, error) {
	if data.isText && strings.Contains(data.text, "\n") {
		var out []*pidfile.Pending
		for _, line := range splitLines(data.text) {
			// line is trimmed, so it holds no newline and cannot split again
			pending, err := s.sanitize(ctx, channel, ev, payload{text: line, isText: true})
			if err != nil {
				return nil, err
			}
			out = append(out, pending...)
		}
		return out, nil
	}

	if data.missing() {
		return nil, ErrMissingData
	}

	e := s.build(channel, ev, data)
	if e.HasPID() {
		return []*pidfile.Pending{pidfile.Resolved(e)}, nil
	}
	return []*pidfile.Pending{s.resolver.Resolve(ctx, e, ev.Process)}, nil
}

func (s *Sanitizer) build(channel string, ev event.RawEvent, data payload) entry.Entry {
	e, err := entry.Parse(data.bytes())
	if err != nil {
		s.logger.Info("unstructured log payload, synthesizing entry",
			"process", ev.Process.Name, "instance", ev.Process.InstanceID, "channel", channel, "error", err)
		s.metrics.UnstructuredPayload()
		e = entry.Entry{Msg: data.String(), V: entry.SchemaVersion}
	}

	if e.Name == "" {
		e.Name = ev.Process.Name
	}
	if e.Hostname == "" {
		e.Hostname = s.hostname
	}
	if e.Level == 0 {
		e.Level = DefaultLevel(channel)
	}
	if e.Time == "" {
		e.Time = entry.FormatTime(ev.At)
	}
	e.SourceTag = entry.SourceTag(ev.Process.Name, ev.Process.InstanceID, channel)
	return e
}

// DefaultLevel is error for the error stream and info otherwise.
func DefaultLevel(channel string) entry.Level {
	if IsErrorChannel(channel) {
		return entry.LevelError
	}
	return entry.LevelInfo
}

// IsErrorChannel reports whether channel denotes a process's error stream.
func IsErrorChannel(channel string) bool {
	switch strings.ToLower(channel) {
	case "err", "stderr", "error":
		return true
	}
	return false
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
