package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tri2820/backend/indexer/internal/dispatch"
	"github.com/tri2820/backend/indexer/internal/model"
	"github.com/tri2820/backend/indexer/internal/ws"
)

func TestStateGaugeTracksTransitions(t *testing.T) {
	m := New(prometheus.NewRegistry(), "w1")

	if v := testutil.ToFloat64(m.state.WithLabelValues("disconnected")); v != 1 {
		t.Fatalf("initial disconnected gauge = %v", v)
	}

	m.OnStateChange(ws.Disconnected, ws.Connecting)
	m.OnStateChange(ws.Connecting, ws.Active)

	if v := testutil.ToFloat64(m.state.WithLabelValues("active")); v != 1 {
		t.Fatalf("active gauge = %v", v)
	}
	if v := testutil.ToFloat64(m.state.WithLabelValues("connecting")); v != 0 {
		t.Fatalf("connecting gauge = %v", v)
	}
	if v := testutil.ToFloat64(m.transitions.WithLabelValues("active")); v != 1 {
		t.Fatalf("active transitions = %v", v)
	}
}

func TestTaskAndBackoffMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry(), "w1")

	task := model.Task{Header: map[string]any{"type": "summarize"}}
	m.OnTaskStarted(dispatch.TaskEvent{Task: task})
	m.OnTaskFinished(dispatch.TaskEvent{Task: task, Duration: 2 * time.Second})
	m.OnTaskStarted(dispatch.TaskEvent{Task: task})
	m.OnTaskFinished(dispatch.TaskEvent{Task: task, Err: errors.New("oom")})
	m.OnDecodeError("s1", errors.New("bad frame"))
	m.OnBackoff(3, 4*time.Second, nil)

	if v := testutil.ToFloat64(m.tasks.WithLabelValues("summarize", "success")); v != 1 {
		t.Fatalf("success count = %v", v)
	}
	if v := testutil.ToFloat64(m.tasks.WithLabelValues("summarize", "failure")); v != 1 {
		t.Fatalf("failure count = %v", v)
	}
	if v := testutil.ToFloat64(m.tasksInFlight); v != 0 {
		t.Fatalf("in flight = %v", v)
	}
	if v := testutil.ToFloat64(m.decodeErrors); v != 1 {
		t.Fatalf("decode errors = %v", v)
	}
	if v := testutil.ToFloat64(m.backoffDelay); v != 4 {
		t.Fatalf("backoff delay = %v", v)
	}
}
