package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Event represents one captured client interaction. Rows are immutable once
// inserted; ordering within a session follows the client timestamp.
type Event struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	UserID     string          `json:"user_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	URL        string          `json:"url"`
	Path       string          `json:"path"`
	Timestamp  time.Time       `json:"timestamp"`
	IPAddress  string          `json:"ip_address"`
	UserAgent  string          `json:"user_agent"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Session represents one browsing session on one device. There is at most one
// row per session_id; upserts refresh liveness and enrichment fields.
type Session struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	IsActive     bool      `json:"is_active"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	BrowserName  string    `json:"browser_name"`
	OSName       string    `json:"os_name"`
	DeviceType   string    `json:"device_type"`
	CreatedAt    time.Time `json:"created_at"`
}

func New(path string) (*DB, error) {
	// Ensure data directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Enable WAL mode and other optimizations via connection string
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

// InsertEventBatch inserts all events in a single transaction. Either every
// event in the batch is persisted or none of them is.
func (db *DB) InsertEventBatch(events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (
			id, session_id, user_id, event_type, payload,
			url, path, timestamp, ip_address, user_agent, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		payload := "{}"
		if e.Payload != nil {
			payload = string(e.Payload)
		}
		_, err := stmt.Exec(
			e.ID, e.SessionID, e.UserID, e.EventType, payload,
			e.URL, e.Path, e.Timestamp.UnixMilli(), e.IPAddress, e.UserAgent,
			e.ReceivedAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpsertSession creates or refreshes the session row for s.SessionID.
// Conflicts resolve on session_id: liveness, last_activity and enrichment
// fields are overwritten, created_at is preserved.
func (db *DB) UpsertSession(s *Session) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO sessions (
			session_id, user_id, is_active, last_activity,
			ip_address, user_agent, browser_name, os_name, device_type, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_id = excluded.user_id,
			is_active = excluded.is_active,
			last_activity = excluded.last_activity,
			ip_address = excluded.ip_address,
			user_agent = excluded.user_agent,
			browser_name = excluded.browser_name,
			os_name = excluded.os_name,
			device_type = excluded.device_type
	`,
		s.SessionID, s.UserID, s.IsActive, s.LastActivity.UnixMilli(),
		s.IPAddress, s.UserAgent, s.BrowserName, s.OSName, s.DeviceType,
		s.CreatedAt.UnixMilli(),
	)
	return err
}

// ActiveSessions returns sessions marked active whose last activity falls
// after since, most recent first.
func (db *DB) ActiveSessions(since time.Time) ([]*Session, error) {
	rows, err := db.conn.Query(`
		SELECT session_id, user_id, is_active, last_activity,
		       ip_address, user_agent, browser_name, os_name, device_type, created_at
		FROM sessions
		WHERE is_active = 1 AND last_activity >= ?
		ORDER BY last_activity DESC
	`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]*Session, 0)
	for rows.Next() {
		var s Session
		var lastActivity, createdAt int64
		if err := rows.Scan(
			&s.SessionID, &s.UserID, &s.IsActive, &lastActivity,
			&s.IPAddress, &s.UserAgent, &s.BrowserName, &s.OSName, &s.DeviceType,
			&createdAt,
		); err != nil {
			return nil, err
		}
		s.LastActivity = time.UnixMilli(lastActivity)
		s.CreatedAt = time.UnixMilli(createdAt)
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

// RecentEvents returns events belonging to the given sessions with client
// timestamp after since, most recent first, capped at limit rows to bound
// query cost.
func (db *DB) RecentEvents(sessionIDs []string, since time.Time, limit int) ([]*Event, error) {
	if len(sessionIDs) == 0 {
		return []*Event{}, nil
	}

	placeholders := ""
	args := make([]interface{}, 0, len(sessionIDs)+2)
	for i, id := range sessionIDs {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}
	args = append(args, since.UnixMilli(), limit)

	rows, err := db.conn.Query(`
		SELECT id, session_id, user_id, event_type, payload,
		       url, path, timestamp, ip_address, user_agent, received_at
		FROM events
		WHERE session_id IN (`+placeholders+`) AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		var e Event
		var payload string
		var ts, receivedAt int64
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.UserID, &e.EventType, &payload,
			&e.URL, &e.Path, &ts, &e.IPAddress, &e.UserAgent, &receivedAt,
		); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		e.Timestamp = time.UnixMilli(ts)
		e.ReceivedAt = time.UnixMilli(receivedAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// GetEventCount returns total event count
func (db *DB) GetEventCount() (int64, error) {
	var count int64
	err := db.conn.QueryRow("SELECT COUNT(*) FROM events").Scan(&count)
	return count, err
}

// CleanupOldData removes events and idle sessions older than retentionDays
func (db *DB) CleanupOldData(retentionDays int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tx.Exec("DELETE FROM events WHERE timestamp < ?", cutoff)
	tx.Exec("DELETE FROM sessions WHERE last_activity < ?", cutoff)

	return tx.Commit()
}
