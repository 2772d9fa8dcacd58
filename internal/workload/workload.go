// Package workload defines the boundary between the dispatch core and the
// code that actually processes a task.
package workload

import (
	"context"
	"errors"
	"fmt"

	"github.com/tri2820/backend/indexer/internal/model"
)

// ErrInvalidTask is returned for tasks the workload cannot interpret
var ErrInvalidTask = errors.New("workload: invalid task")

// Executor turns a task into a result. Implementations may block; they are
// always run on the worker pool.
type Executor interface {
	Execute(ctx context.Context, task model.Task) (model.Result, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, task model.Task) (model.Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, task model.Task) (model.Result, error) {
	return f(ctx, task)
}

// Options selects and configures a built-in workload
type Options struct {
	Name       string
	Command    string
	Args       []string
	ResultType string
}

// New returns the built-in workload named by opts.Name
func New(opts Options) (Executor, error) {
	switch opts.Name {
	case "", "echo":
		return &Echo{ResultType: opts.ResultType}, nil
	case "command":
		if opts.Command == "" {
			return nil, fmt.Errorf("workload: command workload needs a program")
		}
		return &Command{Path: opts.Command, Args: opts.Args, ResultType: opts.ResultType}, nil
	default:
		return nil, fmt.Errorf("workload: unknown workload %q", opts.Name)
	}
}
