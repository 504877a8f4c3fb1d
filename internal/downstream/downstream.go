// Package downstream runs the log formatter (bunyan) that consumes the
// canonical NDJSON stream on its stdin.
package downstream

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"pm2bunyan/internal/jsoncodec"

	"golang.org/x/term"
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Error is a failure of the downstream process: it did not start, or it
// exited abnormally.
type Error struct {
	Op  string // "start" or "exit"
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("downstream %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options select what the formatter shows and how. Conditions are passed
// through verbatim; how several of them combine is up to the formatter.
type Options struct {
	Command    string
	Level      string
	Conditions []string
	Output     string
	Name       string // only show entries of this process name
	Color      string
	ExtraArgs  []string
}

// Args translates the options to bunyan's command line.
func (o Options) Args(stdoutIsTerminal bool) []string {
	var args []string
	if o.Output != "" {
		args = append(args, "-o", o.Output)
	}
	if o.Level != "" {
		args = append(args, "-l", o.Level)
	}
	for _, cond := range o.Conditions {
		args = append(args, "-c", cond)
	}
	if o.Name != "" {
		args = append(args, "-c", NameCondition(o.Name))
	}
	switch o.Color {
	case ColorAlways:
		args = append(args, "--color")
	case ColorNever:
		args = append(args, "--no-color")
	default:
		if stdoutIsTerminal {
			args = append(args, "--color")
		} else {
			args = append(args, "--no-color")
		}
	}
	return append(args, o.ExtraArgs...)
}

// NameCondition is the bunyan condition matching entries whose name is name.
func NameCondition(name string) string {
	quoted, err := jsoncodec.Marshal(name)
	if err != nil {
		quoted = []byte(fmt.Sprintf("%q", name))
	}
	return fmt.Sprintf("this.name === %s", quoted)
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Process is a running downstream formatter.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
	err   error
}

// Start launches the formatter with stdout and stderr passed through. It
// gets its own process group so a terminal's Ctrl-C reaches only us; it
// stops when its stdin is closed.
func Start(opts Options, stdout, stderr io.Writer) (*Process, error) {
	cmd := exec.Command(opts.Command, opts.Args(IsTerminal(stdout))...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &Error{Op: "start", Err: fmt.Errorf("failed to create stdin pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return nil, &Error{Op: "start", Err: err}
	}

	p := &Process{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	if err := p.cmd.Wait(); err != nil {
		p.err = &Error{Op: "exit", Err: err}
	}
	close(p.done)
}

// Stdin is the formatter's input stream.
func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err is nil after a clean exit and an *Error otherwise. Valid after Done.
func (p *Process) Err() error {
	<-p.done
	return p.err
}

// Pid of the running formatter.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}
