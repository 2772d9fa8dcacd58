package workload

import (
	"context"
	"fmt"

	"github.com/tri2820/backend/indexer/internal/model"
)

// Echo is a demonstration workload that reports the input it received and
// hands any payload straight back.
type Echo struct {
	ResultType string
}

func (e *Echo) Execute(ctx context.Context, task model.Task) (model.Result, error) {
	if task.Header == nil {
		return model.Result{}, ErrInvalidTask
	}

	resultType := e.ResultType
	if resultType == "" {
		resultType = string(model.MsgTypeResult)
	}

	header := map[string]any{
		"type":   resultType,
		"status": "complete",
		"output": fmt.Sprintf("Client processed data: %v", task.Header["input"]),
	}
	if task.ID != "" {
		header["id"] = task.ID
	}
	return model.Result{Header: header, Payload: task.Payload}, nil
}
