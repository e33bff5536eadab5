package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ActionMessageSent is the action recorded for every delivered message.
const ActionMessageSent = "message_sent"

// Timestamps are stored as RFC 3339 text so SQLite date functions apply.
const timeLayout = time.RFC3339Nano

// SendAttempt is one send, successful or not.
type SendAttempt struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"requestId,omitempty"`
	ProfileURL string    `json:"profileUrl"`
	Message    string    `json:"message"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration"`
	CreatedAt  time.Time `json:"timestamp"`
}

// InboxMessage is the last message of an unread conversation.
type InboxMessage struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	ProfileURL string    `json:"profileUrl"`
	Message    string    `json:"message"`
	SeenAt     time.Time `json:"timestamp"`
}

// DB is the history database.
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path and creates the tables.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{db: db}
	if err := d.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return d, nil
}

func (d *DB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS send_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT,
		profile_url TEXT NOT NULL,
		message TEXT NOT NULL,
		success BOOLEAN NOT NULL DEFAULT FALSE,
		error_kind TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS inbox_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT,
		profile_url TEXT NOT NULL,
		message TEXT NOT NULL,
		seen_at TEXT NOT NULL,
		UNIQUE(profile_url, message)
	);

	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action_type TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_send_attempts_profile ON send_attempts(profile_url);
	CREATE INDEX IF NOT EXISTS idx_send_attempts_created_at ON send_attempts(created_at);
	CREATE INDEX IF NOT EXISTS idx_actions_type ON actions(action_type);
	CREATE INDEX IF NOT EXISTS idx_actions_timestamp ON actions(timestamp);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// RecordSendAttempt stores one send outcome. A zero CreatedAt is set to now.
func (d *DB) RecordSendAttempt(a SendAttempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO send_attempts (request_id, profile_url, message, success, error_kind, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := d.db.Exec(query, a.RequestID, a.ProfileURL, a.Message, a.Success, a.ErrorKind, a.Error, a.DurationMS, a.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to record send attempt: %w", err)
	}

	return nil
}

// RecentSendAttempts returns up to limit attempts, newest first.
func (d *DB) RecentSendAttempts(limit int) ([]SendAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, COALESCE(request_id, ''), profile_url, message, success,
			COALESCE(error_kind, ''), COALESCE(error, ''), duration_ms, created_at
		FROM send_attempts
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := d.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query send attempts: %w", err)
	}
	defer rows.Close()

	attempts := []SendAttempt{}
	for rows.Next() {
		var a SendAttempt
		var created string
		if err := rows.Scan(&a.ID, &a.RequestID, &a.ProfileURL, &a.Message, &a.Success, &a.ErrorKind, &a.Error, &a.DurationMS, &created); err != nil {
			return nil, fmt.Errorf("failed to scan send attempt: %w", err)
		}
		if a.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("invalid created_at for send attempt %d: %w", a.ID, err)
		}
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

// RecordInboxMessages stores the given messages and returns the ones not
// seen before. A conversation is identified by profile and message text.
func (d *DB) RecordInboxMessages(msgs []InboxMessage) ([]InboxMessage, error) {
	query := `
		INSERT OR IGNORE INTO inbox_messages (name, profile_url, message, seen_at)
		VALUES (?, ?, ?, ?)
	`

	var fresh []InboxMessage
	for _, m := range msgs {
		if m.SeenAt.IsZero() {
			m.SeenAt = time.Now()
		}
		result, err := d.db.Exec(query, m.Name, m.ProfileURL, m.Message, m.SeenAt.UTC().Format(timeLayout))
		if err != nil {
			return fresh, fmt.Errorf("failed to record inbox message: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fresh, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n > 0 {
			m.ID, _ = result.LastInsertId()
			fresh = append(fresh, m)
		}
	}

	return fresh, nil
}

// RecordAction records an action (for rate limiting)
func (d *DB) RecordAction(actionType string) error {
	query := `
		INSERT INTO actions (action_type, timestamp)
		VALUES (?, CURRENT_TIMESTAMP)
	`

	_, err := d.db.Exec(query, actionType)
	if err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}

	return nil
}

// GetActionsToday returns the number of actions of a specific type today (UTC).
func (d *DB) GetActionsToday(actionType string) (int, error) {
	query := `
		SELECT COUNT(*) FROM actions
		WHERE action_type = ? AND DATE(timestamp) = DATE('now')
	`

	var count int
	err := d.db.QueryRow(query, actionType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get action count: %w", err)
	}

	return count, nil
}

// GetActionsInLastHour returns the number of actions of a specific type in the last hour
func (d *DB) GetActionsInLastHour(actionType string) (int, error) {
	query := `
		SELECT COUNT(*) FROM actions
		WHERE action_type = ? AND timestamp >= datetime('now', '-1 hour')
	`

	var count int
	err := d.db.QueryRow(query, actionType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get action count: %w", err)
	}

	return count, nil
}

// CleanupOldActions removes actions older than 30 days
func (d *DB) CleanupOldActions() error {
	query := `
		DELETE FROM actions
		WHERE timestamp < datetime('now', '-30 days')
	`

	_, err := d.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to cleanup old actions: %w", err)
	}

	return nil
}

// GetStats returns statistics about the database
func (d *DB) GetStats() (map[string]int, error) {
	counters := []struct {
		key   string
		query string
	}{
		{"total_attempts", "SELECT COUNT(*) FROM send_attempts"},
		{"successful_sends", "SELECT COUNT(*) FROM send_attempts WHERE success = TRUE"},
		{"failed_sends", "SELECT COUNT(*) FROM send_attempts WHERE success = FALSE"},
		{"sends_today", "SELECT COUNT(*) FROM actions WHERE action_type = 'message_sent' AND DATE(timestamp) = DATE('now')"},
		{"inbox_messages", "SELECT COUNT(*) FROM inbox_messages"},
	}

	stats := make(map[string]int, len(counters))
	for _, c := range counters {
		var n int
		if err := d.db.QueryRow(c.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to compute %s: %w", c.key, err)
		}
		stats[c.key] = n
	}

	return stats, nil
}
