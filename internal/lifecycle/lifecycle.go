// Package lifecycle owns the downstream process and shuts the pipeline down
// in order: stop intake, flush, close the downstream's input, wait for it.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"pm2bunyan/internal/delivery"
)

// Exit codes.
const (
	ExitOK              = 0
	ExitDownstreamError = 1
)

// State of the controller.
type State int32

const (
	Starting State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// DrainSignals start a graceful shutdown.
var DrainSignals = []os.Signal{syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM}

// Downstream is a running consumer process.
type Downstream interface {
	Stdin() io.WriteCloser
	Done() <-chan struct{}
	Err() error
}

// Launcher starts the downstream consumer.
type Launcher func() (Downstream, error)

// Pipeline feeds out until ctx is cancelled or the upstream ends, and only
// returns once everything it accepted has been written.
type Pipeline func(ctx context.Context, out *delivery.Channel) error

type Controller struct {
	launch   Launcher
	pipeline Pipeline
	signals  []os.Signal
	state    atomic.Int32
}

func New(launch Launcher, pipeline Pipeline) *Controller {
	return &Controller{launch: launch, pipeline: pipeline, signals: DrainSignals}
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		slog.Debug("lifecycle state changed", "from", old, "to", s)
	}
}

// Run drives the controller to Stopped and returns the process exit code.
// Cancelling ctx drains like a signal does.
func (c *Controller) Run(ctx context.Context) int {
	c.setState(Starting)
	ds, err := c.launch()
	if err != nil {
		slog.Error("downstream consumer failed to start", "error", err)
		c.setState(Stopped)
		return ExitDownstreamError
	}
	out := delivery.New(ds.Stdin())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, c.signals...)
	defer signal.Stop(sigCh)

	intakeCtx, stopIntake := context.WithCancel(context.Background())
	defer stopIntake()

	pipelineDone := make(chan error, 1)
	c.setState(Running)
	go func() { pipelineDone <- c.pipeline(intakeCtx, out) }()

	drain := func(reason string) {
		if c.State() != Running {
			return
		}
		slog.Info("draining log pipeline", "reason", reason)
		c.setState(Draining)
		stopIntake()
	}

	cancelled := ctx.Done()
	for {
		select {
		case sig := <-sigCh:
			drain(sig.String())

		case <-cancelled:
			cancelled = nil
			drain("context cancelled")

		case err := <-pipelineDone:
			pipelineDone = nil
			if err != nil {
				slog.Error("upstream source failed", "error", err)
			}
			drain("upstream ended")
			if err := out.CloseWrite(); err != nil {
				slog.Warn("failed to close downstream input", "error", err)
			}

		case <-ds.Done():
			if pipelineDone != nil {
				slog.Error("downstream consumer exited unexpectedly", "error", ds.Err())
				stopIntake()
				if err := out.CloseWrite(); err != nil {
					slog.Warn("failed to close downstream input", "error", err)
				}
				<-pipelineDone
				c.setState(Stopped)
				return ExitDownstreamError
			}
			c.setState(Stopped)
			if err := ds.Err(); err != nil {
				slog.Error("downstream consumer failed", "error", err)
				return ExitDownstreamError
			}
			return ExitOK
		}
	}
}
