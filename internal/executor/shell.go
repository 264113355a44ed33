package executor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// ShellRunner executes commands on the local host with os/exec.
type ShellRunner struct {
	// RootHelper is prepended to commands that need root, e.g. "sudo".
	// Leave empty when the agent already runs as root.
	RootHelper string
	// WaitDelay bounds how long Run waits for output pipes after the
	// process is killed on timeout.
	WaitDelay time.Duration
}

// NewShellRunner returns a runner that escalates through rootHelper.
func NewShellRunner(rootHelper string) *ShellRunner {
	return &ShellRunner{RootHelper: rootHelper, WaitDelay: 2 * time.Second}
}

// argv builds the final argument vector, including su and root helper.
func (r *ShellRunner) argv(c Command) []string {
	var args []string
	if c.Root || c.User != "" {
		if r.RootHelper != "" {
			args = append(args, r.RootHelper)
			// sudo accepts VAR=value assignments before the program.
			args = append(args, c.Env...)
		}
	}
	if c.User != "" {
		args = append(args, "su", "-", c.User, "-c", c.Script())
	} else {
		args = append(args, c.Argv...)
	}
	return args
}

func (r *ShellRunner) Run(ctx context.Context, c Command) (Result, error) {
	if len(c.Argv) == 0 {
		return Result{}, &ExecutionError{Cmd: "", ExitCode: -1, Err: errors.New("empty command")}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	args := r.argv(c)
	// #nosec G204
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if len(c.Env) > 0 && r.RootHelper == "" {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.WaitDelay = r.WaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	slog.Debug("Command finished", "cmd", c.String(), "duration", time.Since(start), "error", err)
	if err == nil {
		return res, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		return res, &ExecutionError{Cmd: c.String(), ExitCode: -1, Stderr: res.Stderr, TimedOut: true, Err: ctx.Err()}
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		res.ExitCode = ee.ExitCode()
		return res, &ExecutionError{Cmd: c.String(), ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	res.ExitCode = -1
	return res, &ExecutionError{Cmd: c.String(), ExitCode: -1, Stderr: res.Stderr, Err: err}
}
