// Package executortest provides a scripted executor.Runner for tests.
package executortest

import (
	"context"
	"strings"
	"sync"

	"github.com/loykin/dbguest/internal/executor"
)

// Handler produces the outcome of a matched command.
type Handler func(c executor.Command) (executor.Result, error)

type rule struct {
	match   string
	handler Handler
}

// Fake records every command and answers from rules matched by substring
// against Command.Script. Later rules take precedence over earlier ones.
// Unmatched commands succeed with empty output.
type Fake struct {
	mu    sync.Mutex
	rules []rule
	calls []executor.Command
}

func New() *Fake { return &Fake{} }

// On registers h for commands whose script contains match.
func (f *Fake) On(match string, h Handler) *Fake {
	f.mu.Lock()
	f.rules = append(f.rules, rule{match: match, handler: h})
	f.mu.Unlock()
	return f
}

// OnOutput answers matching commands with stdout out.
func (f *Fake) OnOutput(match, out string) *Fake {
	return f.On(match, func(executor.Command) (executor.Result, error) {
		return executor.Result{Stdout: out}, nil
	})
}

// OnFailure makes matching commands exit with the given status.
func (f *Fake) OnFailure(match string, exitCode int) *Fake {
	return f.On(match, func(c executor.Command) (executor.Result, error) {
		return executor.Result{ExitCode: exitCode}, &executor.ExecutionError{Cmd: c.String(), ExitCode: exitCode}
	})
}

func (f *Fake) Run(ctx context.Context, c executor.Command) (executor.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	var h Handler
	script := c.Script()
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.Contains(script, f.rules[i].match) {
			h = f.rules[i].handler
			break
		}
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return executor.Result{ExitCode: -1}, &executor.ExecutionError{Cmd: c.String(), ExitCode: -1, Err: err}
	}
	if h == nil {
		return executor.Result{}, nil
	}
	return h(c)
}

// Calls returns a copy of every command run so far.
func (f *Fake) Calls() []executor.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Command(nil), f.calls...)
}

// Count returns how many recorded commands contain match.
func (f *Fake) Count(match string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c.Script(), match) {
			n++
		}
	}
	return n
}
