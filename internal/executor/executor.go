// Package executor runs privileged administration commands on the guest.
//
// Every command is bounded by a timeout. A Command either runs a program
// directly (optionally through the root helper, usually sudo) or runs a shell
// script as another OS user through "su - <user> -c".
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout bounds commands that do not set their own timeout.
const DefaultTimeout = 60 * time.Second

// Command describes a single privileged invocation.
type Command struct {
	// Argv is the program and its arguments. When User is set the elements
	// are joined with spaces into one shell script.
	Argv []string
	// User runs the command as this OS user via su. Implies Root.
	User string
	// Root runs the command through the root helper.
	Root bool
	// Env holds extra KEY=VALUE pairs for the command.
	Env []string
	// Timeout bounds the command; zero means DefaultTimeout.
	Timeout time.Duration
	// Secrets are masked wherever the command is logged or reported.
	Secrets []string
}

// AsUser builds a command that runs script as the given OS user.
func AsUser(user, script string) Command {
	return Command{Argv: []string{script}, User: user, Root: true}
}

// AsRoot builds a command that runs argv through the root helper.
func AsRoot(argv ...string) Command {
	return Command{Argv: argv, Root: true}
}

// WithTimeout returns a copy of c bounded by d.
func (c Command) WithTimeout(d time.Duration) Command {
	c.Timeout = d
	return c
}

// WithEnv returns a copy of c with extra environment assignments.
func (c Command) WithEnv(kv ...string) Command {
	c.Env = append(append([]string(nil), c.Env...), kv...)
	return c
}

// WithSecrets returns a copy of c that masks secrets in String.
func (c Command) WithSecrets(secrets ...string) Command {
	c.Secrets = append(append([]string(nil), c.Secrets...), secrets...)
	return c
}

// Script returns the command line as a single string. It is what a su
// invocation receives after -c and what tests match against.
func (c Command) Script() string { return strings.Join(c.Argv, " ") }

// String is the loggable form of c with secrets masked.
func (c Command) String() string {
	script := c.Script()
	for _, s := range c.Secrets {
		if s != "" {
			script = strings.ReplaceAll(script, s, "***")
		}
	}
	if c.User != "" {
		return "[" + c.User + "] " + script
	}
	if c.Root {
		return "[root] " + script
	}
	return script
}

func (c Command) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Result is the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes privileged commands. Implementations must enforce the
// command timeout and be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, c Command) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, c Command) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, c Command) (Result, error) { return f(ctx, c) }

// ExecutionError reports a command that exited non-zero, timed out or could
// not be launched.
type ExecutionError struct {
	Cmd      string
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *ExecutionError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("command %q timed out", e.Cmd)
	case e.Err != nil && e.ExitCode < 0:
		return fmt.Sprintf("command %q could not run: %v", e.Cmd, e.Err)
	default:
		msg := fmt.Sprintf("command %q exited with status %d", e.Cmd, e.ExitCode)
		if s := strings.TrimSpace(e.Stderr); s != "" {
			msg += ": " + s
		}
		return msg
	}
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsExecutionError reports whether err wraps an *ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
