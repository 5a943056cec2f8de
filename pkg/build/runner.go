package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// ProcessRunner starts toolchain processes
type ProcessRunner interface {
	Start(ctx context.Context, cmd *Command) (Process, error)
}

// Process is a started toolchain process. Wait blocks until it exits and
// returns its exit code; a non-nil error means the process could not be run
// to completion at all.
type Process interface {
	Wait() (int, error)
}

// ExecRunner runs commands on the local machine
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer

	// WaitDelay bounds how long Wait waits for output pipes after the
	// process has been killed
	WaitDelay time.Duration
}

// NewExecRunner creates a runner that streams to the given writers.
// nil writers default to the process's own stdout/stderr.
func NewExecRunner(stdout, stderr io.Writer) *ExecRunner {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &ExecRunner{Stdout: stdout, Stderr: stderr, WaitDelay: 5 * time.Second}
}

// Start launches cmd. The process is killed when ctx is cancelled.
func (r *ExecRunner) Start(ctx context.Context, cmd *Command) (Process, error) {
	if len(cmd.Args) == 0 {
		return nil, errors.New("empty command")
	}

	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdout = r.Stdout
	c.Stderr = r.Stderr
	c.WaitDelay = r.WaitDelay

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Args[0], err)
	}
	return &execProcess{ctx: ctx, cmd: c}, nil
}

type execProcess struct {
	ctx context.Context
	cmd *exec.Cmd
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if ctxErr := p.ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}
