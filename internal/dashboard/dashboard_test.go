package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/tri2820/backend/indexer/internal/database"
	"github.com/tri2820/backend/indexer/internal/dispatch"
	"github.com/tri2820/backend/indexer/internal/model"
	"github.com/tri2820/backend/indexer/internal/ws"
)

type fakeLogs []database.TaskLog

func (f fakeLogs) RecentTaskLogs(limit int) ([]database.TaskLog, error) {
	if limit < len(f) {
		return f[:limit], nil
	}
	return f, nil
}

func newTestServer(t *testing.T, d *Dashboard) *httptest.Server {
	t.Helper()
	h, err := d.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestObserversUpdateStats(t *testing.T) {
	d := NewDashboard("w1", "ws://dispatcher", zaptest.NewLogger(t).Sugar())
	d.LoadHistoricalStats(&database.AggregateStats{TotalTasks: 5, FailedTasks: 1, TotalDurationMS: 400, TodayTasks: 2})

	d.OnStateChange(ws.Registering, ws.Active)
	task := model.Task{ID: "t1"}
	d.OnTaskStarted(dispatch.TaskEvent{Task: task})
	if got := d.GetStats().CurrentTask; got != "t1" {
		t.Fatalf("current task = %q", got)
	}
	d.OnTaskFinished(dispatch.TaskEvent{Task: task, Duration: 100 * time.Millisecond})
	d.OnTaskFinished(dispatch.TaskEvent{Task: model.Task{ID: "t2"}, Err: errors.New("boom")})
	d.OnDecodeError("s1", errors.New("bad"))
	d.OnStateChange(ws.Active, ws.BackingOff)
	d.OnBackoff(1, 2*time.Second, errors.New("connection reset"))

	s := d.GetStats()
	if s.Connected || s.State != "backing_off" || s.LastDisconnect.IsZero() {
		t.Fatalf("connection fields: %+v", s)
	}
	if s.TasksCompleted != 5 || s.TasksFailed != 2 || s.TodayTasksCompleted != 3 {
		t.Fatalf("task counters: %+v", s)
	}
	if s.AvgDurationMS != 100 {
		t.Fatalf("avg duration = %v", s.AvgDurationMS)
	}
	if s.DecodeErrors != 1 || s.Reconnects != 1 || s.LastBackoffMS != 2000 || s.LastError != "connection reset" {
		t.Fatalf("misc fields: %+v", s)
	}
	if s.CurrentTask != "" {
		t.Fatalf("current task not cleared: %q", s.CurrentTask)
	}
}

func TestStatsEndpoint(t *testing.T) {
	d := NewDashboard("w1", "ws://dispatcher", nil)
	d.OnStateChange(ws.Registering, ws.Active)
	srv := newTestServer(t, d)

	resp, err := http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var s Stats
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.WorkerID != "w1" || s.State != "active" || !s.Connected {
		t.Fatalf("unexpected stats: %+v", s)
	}

	resp2, err := http.Post(srv.URL+"/api/stats", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp2.StatusCode)
	}
}

func TestReconnectEndpoint(t *testing.T) {
	d := NewDashboard("w1", "ws://dispatcher", nil)
	srv := newTestServer(t, d)

	resp, err := http.Post(srv.URL+"/api/reconnect", "", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unconfigured reconnect status = %d", resp.StatusCode)
	}

	var called atomic.Int32
	d.SetReconnectFunc(func() { called.Add(1) })
	resp, err = http.Post(srv.URL+"/api/reconnect", "", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || called.Load() != 1 {
		t.Fatalf("status = %d, called = %d", resp.StatusCode, called.Load())
	}
}

func TestTasksEndpoint(t *testing.T) {
	d := NewDashboard("w1", "ws://dispatcher", nil)
	srv := newTestServer(t, d)

	resp, err := http.Get(srv.URL + "/api/tasks")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("journal disabled status = %d", resp.StatusCode)
	}

	d.SetTaskLogs(fakeLogs{{TaskID: "c"}, {TaskID: "b"}, {TaskID: "a"}})
	resp, err = http.Get(srv.URL + "/api/tasks?limit=2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var logs []database.TaskLog
	if err := json.NewDecoder(resp.Body).Decode(&logs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(logs) != 2 || logs[0].TaskID != "c" {
		t.Fatalf("unexpected logs: %+v", logs)
	}

	bad, err := http.Get(srv.URL + "/api/tasks?limit=zero")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", bad.StatusCode)
	}
}

func TestIndexAndMetrics(t *testing.T) {
	d := NewDashboard("w1", "ws://dispatcher", nil)
	d.SetMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("indexer_up 1\n"))
	}))
	srv := newTestServer(t, d)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("index status = %d, type = %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp, err = http.Get(srv.URL + "/static/dashboard.js")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("static status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d", resp.StatusCode)
	}
}

func TestTodayCounterResetsAtMidnight(t *testing.T) {
	d := NewDashboard("w1", "ws://dispatcher", nil)
	clock := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	d.LoadHistoricalStats(&database.AggregateStats{TotalTasks: 4, TodayTasks: 4})
	d.OnTaskFinished(dispatch.TaskEvent{Task: model.Task{ID: "late"}})
	if got := d.GetStats().TodayTasksCompleted; got != 5 {
		t.Fatalf("before midnight = %d", got)
	}

	clock = clock.Add(2 * time.Minute)
	if got := d.GetStats().TodayTasksCompleted; got != 0 {
		t.Fatalf("after midnight = %d, want 0", got)
	}

	d.OnTaskFinished(dispatch.TaskEvent{Task: model.Task{ID: "early"}})
	s := d.GetStats()
	if s.TodayTasksCompleted != 1 || s.TasksCompleted != 6 {
		t.Fatalf("unexpected counters: %+v", s)
	}
}
