package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values for the status label.
const (
	StatusRouted       = "routed"
	StatusDropped      = "dropped"
	StatusWritten      = "written"
	StatusDroppedPID   = "dropped_pid"
	StatusDroppedWrite = "dropped_write"
)

// Metrics holds the pipeline counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Events       *prometheus.CounterVec
	Entries      *prometheus.CounterVec
	Unstructured prometheus.Counter
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pm2bunyan",
			Subsystem: "router",
			Name:      "events_total",
			Help:      "Upstream log events by outcome.",
		}, []string{"status"}), // status: routed, dropped
		Entries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pm2bunyan",
			Subsystem: "router",
			Name:      "entries_total",
			Help:      "Canonical log entries by outcome.",
		}, []string{"status"}), // status: written, dropped_pid, dropped_write
		Unstructured: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pm2bunyan",
			Subsystem: "sanitizer",
			Name:      "unstructured_total",
			Help:      "Payloads that were not structured records and got a synthesized entry.",
		}),
	}
}

func (m *Metrics) EventRouted() {
	if m != nil {
		m.Events.WithLabelValues(StatusRouted).Inc()
	}
}

func (m *Metrics) EventDropped() {
	if m != nil {
		m.Events.WithLabelValues(StatusDropped).Inc()
	}
}

func (m *Metrics) EntryWritten() {
	if m != nil {
		m.Entries.WithLabelValues(StatusWritten).Inc()
	}
}

func (m *Metrics) EntryDropped(status string) {
	if m != nil {
		m.Entries.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) UnstructuredPayload() {
	if m != nil {
		m.Unstructured.Inc()
	}
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics listener: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listener: %w", err)
		}
		return nil
	}
}
