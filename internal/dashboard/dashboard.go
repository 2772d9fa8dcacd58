package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tri2820/backend/indexer/internal/database"
	"github.com/tri2820/backend/indexer/internal/dispatch"
	"github.com/tri2820/backend/indexer/internal/ws"
)

//go:embed templates/*
var templates embed.FS

// Stats holds the worker statistics (pure data, no mutex)
type Stats struct {
	// Connection status
	State          string    `json:"state"`
	Connected      bool      `json:"connected"`
	ConnectedSince time.Time `json:"connectedSince,omitempty"`
	LastDisconnect time.Time `json:"lastDisconnect,omitempty"`
	Reconnects     int       `json:"reconnects"`
	LastBackoffMS  int64     `json:"lastBackoffMs"`
	LastError      string    `json:"lastError,omitempty"`

	// Task statistics
	TodayTasksCompleted int     `json:"todayTasksCompleted"`
	TasksCompleted      int     `json:"tasksCompleted"`
	TasksFailed         int     `json:"tasksFailed"`
	DecodeErrors        int     `json:"decodeErrors"`
	TotalDurationMS     int64   `json:"totalDurationMs"`
	AvgDurationMS       float64 `json:"avgDurationMs"`
	CurrentTask         string  `json:"currentTask,omitempty"`

	// Session info
	WorkerID  string    `json:"workerId"`
	StartTime time.Time `json:"startTime"`
	ServerURL string    `json:"serverUrl"`
}

// TaskLogSource lists journaled tasks
type TaskLogSource interface {
	RecentTaskLogs(limit int) ([]database.TaskLog, error)
}

// Dashboard tracks worker status and serves it over HTTP
type Dashboard struct {
	mu            sync.Mutex
	stats         Stats
	reconnectFunc func()
	logs          TaskLogSource
	metrics       http.Handler
	log           *zap.SugaredLogger

	now func() time.Time
	day string // UTC date TodayTasksCompleted counts for, as in the journal
}

// NewDashboard creates a new dashboard instance
func NewDashboard(workerID, serverURL string, logger *zap.SugaredLogger) *Dashboard {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dashboard{
		stats: Stats{
			State:     ws.Disconnected.String(),
			WorkerID:  workerID,
			ServerURL: serverURL,
			StartTime: time.Now(),
		},
		log: logger,
		now: time.Now,
	}
}

// SetReconnectFunc sets the function to call when reconnect is requested
func (d *Dashboard) SetReconnectFunc(f func()) {
	d.reconnectFunc = f
}

// SetTaskLogs enables the /api/tasks endpoint
func (d *Dashboard) SetTaskLogs(src TaskLogSource) {
	d.logs = src
}

// SetMetricsHandler mounts h on /metrics
func (d *Dashboard) SetMetricsHandler(h http.Handler) {
	d.metrics = h
}

// LoadHistoricalStats initializes stats with data from the journal
func (d *Dashboard) LoadHistoricalStats(s *database.AggregateStats) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.TasksCompleted = s.TotalTasks - s.FailedTasks
	d.stats.TasksFailed = s.FailedTasks
	d.stats.TodayTasksCompleted = s.TodayTasks
	d.day = d.today()
	d.stats.TotalDurationMS = s.TotalDurationMS
	d.updateAverage()
}

// OnStateChange implements ws.Observer
func (d *Dashboard) OnStateChange(from, to ws.State) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.State = to.String()
	switch {
	case to == ws.Active:
		d.stats.Connected = true
		d.stats.ConnectedSince = time.Now()
	case from == ws.Active:
		d.stats.Connected = false
		d.stats.LastDisconnect = time.Now()
	}
}

// OnBackoff implements ws.Observer
func (d *Dashboard) OnBackoff(attempt int, delay time.Duration, cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Reconnects++
	d.stats.LastBackoffMS = delay.Milliseconds()
	if cause != nil {
		d.stats.LastError = cause.Error()
	}
}

// OnTaskStarted implements dispatch.Observer
func (d *Dashboard) OnTaskStarted(ev dispatch.TaskEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.CurrentTask = ev.Task.ID
}

// OnTaskFinished implements dispatch.Observer
func (d *Dashboard) OnTaskFinished(ev dispatch.TaskEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stats.CurrentTask == ev.Task.ID {
		d.stats.CurrentTask = ""
	}
	if ev.Err != nil {
		d.stats.TasksFailed++
		return
	}
	d.stats.TasksCompleted++
	d.rollDay()
	d.stats.TodayTasksCompleted++
	d.stats.TotalDurationMS += ev.Duration.Milliseconds()
	d.updateAverage()
}

// OnDecodeError implements dispatch.Observer
func (d *Dashboard) OnDecodeError(sessionID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.DecodeErrors++
}

func (d *Dashboard) updateAverage() {
	if d.stats.TasksCompleted > 0 {
		d.stats.AvgDurationMS = float64(d.stats.TotalDurationMS) / float64(d.stats.TasksCompleted)
	}
}

// GetStats returns a copy of the current stats
func (d *Dashboard) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollDay()
	return d.stats
}

func (d *Dashboard) today() string {
	return d.now().UTC().Format("2006-01-02")
}

// rollDay zeroes the daily counter once the date has changed
func (d *Dashboard) rollDay() {
	today := d.today()
	if d.day != today {
		d.day = today
		d.stats.TodayTasksCompleted = 0
	}
}

// Handler returns the dashboard routes
func (d *Dashboard) Handler() (http.Handler, error) {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/stats", d.handleStats)
	mux.HandleFunc("/api/reconnect", d.handleReconnect)
	mux.HandleFunc("/api/tasks", d.handleTasks)
	if d.metrics != nil {
		mux.Handle("/metrics", d.metrics)
	}

	// Static files (CSS, JS)
	staticFS, err := fs.Sub(templates, "templates")
	if err != nil {
		return nil, err
	}
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	// Index page
	mux.HandleFunc("/", d.handleIndex)
	return mux, nil
}

// ServeHTTP starts the HTTP dashboard server. It shuts down gracefully when ctx is cancelled.
func (d *Dashboard) ServeHTTP(ctx context.Context, addr string) error {
	handler, err := d.Handler()
	if err != nil {
		return err
	}
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	d.log.Infof("starting dashboard server on %s", addr)
	err = server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// handleStats returns the current statistics as JSON
func (d *Dashboard) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	d.writeJSON(w, d.GetStats())
}

// handleReconnect drops the current connection and reconnects immediately
func (d *Dashboard) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if d.reconnectFunc == nil {
		http.Error(w, "Reconnect function not configured", http.StatusInternalServerError)
		return
	}

	d.log.Infof("manual reconnect requested")
	d.reconnectFunc()

	d.writeJSON(w, map[string]string{"status": "ok", "message": "reconnecting"})
}

// handleTasks lists recent journal entries
func (d *Dashboard) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if d.logs == nil {
		http.Error(w, "Task journal not enabled", http.StatusNotFound)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	logs, err := d.logs.RecentTaskLogs(limit)
	if err != nil {
		d.log.Errorf("failed to list task logs: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []database.TaskLog{}
	}
	d.writeJSON(w, logs)
}

// handleIndex serves the dashboard HTML page
func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data, err := templates.ReadFile("templates/index.html")
	if err != nil {
		d.log.Errorf("failed to read index.html: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (d *Dashboard) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		d.log.Errorf("failed to encode response: %v", err)
	}
}
