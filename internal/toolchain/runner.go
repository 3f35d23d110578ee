package toolchain

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/errdefs"
)

// Command is an external process invocation.
type Command struct {
	Name string
	Args []string
	Env  []string // added to the current environment
	Dir  string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a process that ran to completion.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner runs commands. A non-zero exit status is reported in Result, not
// as an error; errors mean the process could not run at all.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	c.Dir = cmd.Dir

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, &errdefs.ToolError{Command: cmd.String(), Stderr: stderr.String(), Err: ctxErr}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return res, &errdefs.ToolError{
			Command: cmd.String(),
			Err:     errors.Errorf("%w: %s not found in PATH", errdefs.ErrToolchainMissing, cmd.Name),
		}
	}
	return res, &errdefs.ToolError{Command: cmd.String(), Err: err}
}
