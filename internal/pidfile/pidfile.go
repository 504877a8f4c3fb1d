// Package pidfile resolves the OS pid of a managed process from the pid
// file the process manager keeps for it.
package pidfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"pm2bunyan/internal/entry"
	"pm2bunyan/internal/event"

	"github.com/shirou/gopsutil/v3/process"
)

var (
	// ErrUnreadable means the pid file could not be read.
	ErrUnreadable = errors.New("pid file unreadable")
	// ErrInvalidPID means the pid file does not hold a positive integer.
	ErrInvalidPID = errors.New("pid file does not contain a valid pid")
)

// ReadPID reads and parses the pid stored at path.
func ReadPID(path string) (int, error) {
	if path == "" {
		return 0, fmt.Errorf("%w: no pid file path", ErrUnreadable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %q in %s", ErrInvalidPID, strings.TrimSpace(string(data)), path)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("%w: %d in %s", ErrInvalidPID, pid, path)
	}
	return pid, nil
}

// Pending is an entry whose pid may still be resolving.
type Pending struct {
	done  chan struct{}
	entry entry.Entry
	err   error
}

// Go runs resolve on its own goroutine and returns its pending result.
func Go(resolve func() (entry.Entry, error)) *Pending {
	p := &Pending{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.entry, p.err = resolve()
	}()
	return p
}

// Resolved wraps an entry that needs no further work.
func Resolved(e entry.Entry) *Pending {
	p := &Pending{done: make(chan struct{}), entry: e}
	close(p.done)
	return p
}

// Done is closed once the entry is final or has failed.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until resolution finishes. On error the entry must be dropped.
func (p *Pending) Wait() (entry.Entry, error) {
	<-p.done
	return p.entry, p.err
}

// Resolver looks pids up without caching; a restarted instance keeps its
// instance id but gets a new pid.
type Resolver struct {
	checkLiveness bool
}

// NewResolver returns a Resolver that also warns (at debug level) when a
// pid file points at a process that is no longer running.
func NewResolver() *Resolver {
	return &Resolver{checkLiveness: true}
}

// Resolve reads proc's pid file on its own goroutine and completes e with
// the result. The read is not cancelable.
func (r *Resolver) Resolve(ctx context.Context, e entry.Entry, proc event.ProcessMeta) *Pending {
	ctx = context.WithoutCancel(ctx)
	return Go(func() (entry.Entry, error) {
		pid, err := ReadPID(proc.PIDFilePath)
		if err != nil {
			return entry.Entry{}, fmt.Errorf("failed to resolve pid of %s-%d: %w", proc.Name, proc.InstanceID, err)
		}
		if r.checkLiveness {
			r.warnIfStale(ctx, pid, proc)
		}
		e.PID = pid
		return e, nil
	})
}

func (r *Resolver) warnIfStale(ctx context.Context, pid int, proc event.ProcessMeta) {
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || exists {
		return
	}
	slog.Debug("pid file refers to a process that is not running",
		"pid", pid, "process", proc.Name, "path", proc.PIDFilePath)
}
