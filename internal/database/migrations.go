package database

import (
	"fmt"
)

// Migrate runs database migrations
func (db *DB) Migrate() error {
	// Create migrations table
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER UNIQUE NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations")
	row.Scan(&currentVersion)

	// Run migrations
	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				-- Events table (pageviews, clicks, scrolls, heartbeats, custom events)
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					session_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					event_type TEXT NOT NULL,
					payload TEXT DEFAULT '{}',
					url TEXT NOT NULL,
					path TEXT NOT NULL,
					timestamp INTEGER NOT NULL,
					ip_address TEXT,
					user_agent TEXT,
					received_at INTEGER NOT NULL
				);

				-- Indexes for events
				CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
				CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
				CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
				CREATE INDEX IF NOT EXISTS idx_events_path ON events(path);
			`,
		},
		{
			version: 2,
			sql: `
				-- Sessions table, one row per session identifier
				CREATE TABLE IF NOT EXISTS sessions (
					session_id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					is_active INTEGER DEFAULT 0,
					last_activity INTEGER NOT NULL,
					ip_address TEXT,
					user_agent TEXT,
					browser_name TEXT,
					os_name TEXT,
					device_type TEXT,
					created_at INTEGER NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(is_active, last_activity);
				CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
			`,
		},
		{
			version: 3,
			sql: `
				-- Settings table
				CREATE TABLE IF NOT EXISTS settings (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at INTEGER NOT NULL
				);

				-- Insert default settings
				INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES
					('secret_key', '', strftime('%s', 'now') * 1000),
					('allowed_origins', '*', strftime('%s', 'now') * 1000),
					('activity_window_minutes', '5', strftime('%s', 'now') * 1000),
					('heartbeat_seconds', '10', strftime('%s', 'now') * 1000),
					('retention_days', '90', strftime('%s', 'now') * 1000);
			`,
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
		}

		_, err = tx.Exec(m.sql)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", m.version, err)
		}

		_, err = tx.Exec("INSERT INTO migrations (version, applied_at) VALUES (?, strftime('%s', 'now') * 1000)", m.version)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}

	return nil
}
