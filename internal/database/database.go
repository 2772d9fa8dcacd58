package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// TaskLog represents one executed task
type TaskLog struct {
	ID           int64
	SessionID    string
	TaskID       string
	TaskType     string
	PayloadBytes int
	DurationMS   int64
	Success      bool
	Error        string
	CreatedAt    time.Time
}

// DB wraps the SQLite task journal
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema
func NewDB(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory failed: %w", err)
	}

	// Use WAL mode for better concurrency
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}

	// SQLite works best with limited connections
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema failed: %w", err)
	}

	return db, nil
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		task_type TEXT NOT NULL DEFAULT '',
		payload_bytes INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_task_id ON task_logs(task_id);
	CREATE INDEX IF NOT EXISTS idx_created_at ON task_logs(created_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// InsertTaskLog inserts a new journal entry
func (db *DB) InsertTaskLog(log *TaskLog) error {
	query := `
		INSERT INTO task_logs (session_id, task_id, task_type, payload_bytes, duration_ms, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	result, err := db.conn.Exec(query, log.SessionID, log.TaskID, log.TaskType, log.PayloadBytes,
		log.DurationMS, log.Success, log.Error, log.CreatedAt.UTC())
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	log.ID = id
	return nil
}

// RecentTaskLogs returns the latest entries, newest first
func (db *DB) RecentTaskLogs(limit int) ([]TaskLog, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, task_id, task_type, payload_bytes, duration_ms, success, error, created_at
		FROM task_logs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent logs: %w", err)
	}
	defer rows.Close()

	var logs []TaskLog
	for rows.Next() {
		var l TaskLog
		if err := rows.Scan(&l.ID, &l.SessionID, &l.TaskID, &l.TaskType, &l.PayloadBytes,
			&l.DurationMS, &l.Success, &l.Error, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// AggregateStats holds aggregate statistics from the database
type AggregateStats struct {
	TotalTasks      int
	FailedTasks     int
	TotalDurationMS int64
	TodayTasks      int
}

// GetAggregateStats returns aggregate statistics from all task logs
func (db *DB) GetAggregateStats() (*AggregateStats, error) {
	stats := &AggregateStats{}

	err := db.conn.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0), COALESCE(SUM(duration_ms), 0)
		FROM task_logs
	`).Scan(&stats.TotalTasks, &stats.FailedTasks, &stats.TotalDurationMS)
	if err != nil {
		return nil, fmt.Errorf("query total stats: %w", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	err = db.conn.QueryRow(`
		SELECT COUNT(*)
		FROM task_logs
		WHERE DATE(created_at) = ?
	`, today).Scan(&stats.TodayTasks)
	if err != nil {
		return nil, fmt.Errorf("query today stats: %w", err)
	}

	return stats, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}
