// Package router connects an upstream source to the delivery channel:
// events are sanitized in arrival order and their entries written in the
// same order, however long individual pid lookups take.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pm2bunyan/internal/entry"
	"pm2bunyan/internal/event"
	"pm2bunyan/internal/metrics"
	"pm2bunyan/internal/pidfile"
	"pm2bunyan/internal/source"
)

const (
	defaultQueueSize = 1024
	// a pid lookup slower than this holds back every later entry; say so
	defaultSlowPID = time.Second
)

// Sanitizer converts one event into ordered pending entries.
type Sanitizer interface {
	Sanitize(ctx context.Context, channel string, ev event.RawEvent) ([]*pidfile.Pending, error)
}

// EntryWriter is the delivery channel as seen by the router.
type EntryWriter interface {
	WriteEntry(e entry.Entry) error
}

// Option configures a Router.
type Option func(*Router)

// WithQueueSize bounds how many events may wait for their entries to be
// written before intake blocks. Default: 1024.
func WithQueueSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithLogger sets the logger for dropped events and entries. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

type Router struct {
	sanitizer Sanitizer
	out       EntryWriter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	queueSize int
	slowPID   time.Duration
}

func New(s Sanitizer, out EntryWriter, m *metrics.Metrics, opts ...Option) *Router {
	r := &Router{sanitizer: s, out: out, metrics: m, queueSize: defaultQueueSize, slowPID: defaultSlowPID}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// run is the state of one Run call. The queue holds one batch per event.
type run struct {
	mu     sync.Mutex
	queue  chan []*pidfile.Pending
	closed bool
}

// Run subscribes to src and forwards entries until src stops. Everything
// already dispatched is written before Run returns.
func (r *Router) Run(ctx context.Context, src source.Source) error {
	st := &run{queue: make(chan []*pidfile.Pending, r.queueSize)}

	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		for batch := range st.queue {
			r.flush(batch)
		}
	}()

	err := src.Run(ctx,
		func() { r.logger.Info("upstream source ready, routing log events") },
		func(channel string, ev event.RawEvent) { r.dispatch(ctx, st, channel, ev) },
	)

	st.mu.Lock()
	st.closed = true
	close(st.queue)
	st.mu.Unlock()
	<-flushed

	return err
}

// dispatch holds the run lock across sanitize and enqueue so concurrent
// callers keep arrival order.
func (r *Router) dispatch(ctx context.Context, st *run, channel string, ev event.RawEvent) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		r.logger.Warn("dropping log event received after shutdown", "process", ev.Process.Name, "channel", channel)
		r.metrics.EventDropped()
		return
	}

	batch, err := r.sanitizer.Sanitize(ctx, channel, ev)
	if err != nil {
		r.logger.Warn("dropping log event", "error", err,
			"process", ev.Process.Name, "instance", ev.Process.InstanceID, "channel", channel)
		r.metrics.EventDropped()
		return
	}
	r.metrics.EventRouted()
	if len(batch) > 0 {
		st.queue <- batch
	}
}

func (r *Router) flush(batch []*pidfile.Pending) {
	for _, p := range batch {
		r.awaitPID(p)
		e, err := p.Wait()
		if err != nil {
			r.logger.Error("dropping log entry", "error", err)
			r.metrics.EntryDropped(metrics.StatusDroppedPID)
			continue
		}
		if err := r.out.WriteEntry(e); err != nil {
			r.logger.Error("failed to deliver log entry", "error", err, "source", e.SourceTag)
			r.metrics.EntryDropped(metrics.StatusDroppedWrite)
			continue
		}
		r.metrics.EntryWritten()
	}
}

// awaitPID blocks until p is done, warning once if that takes long.
func (r *Router) awaitPID(p *pidfile.Pending) {
	timer := time.NewTimer(r.slowPID)
	defer timer.Stop()
	select {
	case <-p.Done():
	case <-timer.C:
		r.logger.Warn("pid lookup is slow, later entries are waiting", "after", r.slowPID)
		<-p.Done()
	}
}
