package workload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/tri2820/backend/indexer/internal/codec"
	"github.com/tri2820/backend/indexer/internal/model"
)

// ErrInvalidResult is returned when the program's output is not a JSON object
var ErrInvalidResult = errors.New("workload: invalid result")

const stderrExcerpt = 512

// Command runs an external program per task, typically an inference script.
// The task is written to stdin in wire format and WORKER_FRAME tells the
// program whether it is a "text" or "binary" frame. The program prints the
// result header as a JSON object on stdout.
type Command struct {
	Path       string
	Args       []string
	Env        []string
	ResultType string
}

func (c *Command) Execute(ctx context.Context, task model.Task) (model.Result, error) {
	frame, err := codec.Encode(task.Header, task.Payload)
	if err != nil {
		return model.Result{}, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}

	kind := "text"
	if frame.Binary {
		kind = "binary"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(frame.Data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(append(os.Environ(), c.Env...), "WORKER_FRAME="+kind, "WORKER_TASK_ID="+task.ID)

	if err := cmd.Run(); err != nil {
		return model.Result{}, fmt.Errorf("workload: %s: %w: %s", c.Path, err, tail(stderr.Bytes()))
	}

	msg, err := codec.DecodeBytes(stdout.Bytes(), false)
	if err != nil {
		return model.Result{}, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	if _, ok := msg.Header["type"]; !ok && c.ResultType != "" {
		msg.Header["type"] = c.ResultType
	}
	return model.Result{Header: msg.Header}, nil
}

func tail(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if len(b) > stderrExcerpt {
		b = b[len(b)-stderrExcerpt:]
	}
	return b
}
