package main

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
}

// UserRow represents an account record.
type UserRow struct {
	ID          string
	Username    string
	DisplayName string
	PassHash    string
	CreatedAt   time.Time
}

// MatchHistoryRow represents a completed match.
type MatchHistoryRow struct {
	MatchID  string
	Mode     string
	Player1  string
	Alias1   string
	Player2  string
	Alias2   string
	Score1   int
	Score2   int
	WinnerID string
	EndedAt  time.Time
}

// OpenDB opens (or creates) the SQLite database.
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL for better concurrency between the history writer and REST reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		pass_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS match_history (
		match_id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		player1_id TEXT NOT NULL,
		player1_alias TEXT NOT NULL,
		player2_id TEXT NOT NULL,
		player2_alias TEXT NOT NULL,
		score1 INTEGER NOT NULL,
		score2 INTEGER NOT NULL,
		winner_id TEXT NOT NULL,
		ended_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_p1 ON match_history(player1_id);
	CREATE INDEX IF NOT EXISTS idx_history_p2 ON match_history(player2_id);

	CREATE TABLE IF NOT EXISTS facts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		match_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_facts_created ON facts(created_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// GetSetting returns the setting value, or "" if absent.
func (db *DB) GetSetting(key string) string {
	var value string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return ""
	}
	return value
}

// SetSetting upserts a setting.
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

// CreateUser inserts a new account.
func (db *DB) CreateUser(id, username, displayName, passHash string) error {
	_, err := db.conn.Exec(
		"INSERT INTO users (id, username, display_name, pass_hash) VALUES (?, ?, ?, ?)",
		id, username, displayName, passHash)
	return err
}

// GetUserByUsername returns the account, or nil if absent.
func (db *DB) GetUserByUsername(username string) (*UserRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, display_name, pass_hash, created_at FROM users WHERE username = ?",
		username)
	var u UserRow
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PassHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UsernameExists reports whether an account with the username exists.
func (db *DB) UsernameExists(username string) (bool, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(1) FROM users WHERE username = ?", username).Scan(&n)
	return n > 0, err
}

// InsertFact appends one lifecycle fact.
func (db *DB) InsertFact(f Fact) error {
	_, err := db.conn.Exec(
		"INSERT INTO facts (type, match_id, user_id, data, created_at) VALUES (?, ?, ?, ?, ?)",
		f.Type, f.MatchID, f.UserID, f.Data, f.Timestamp)
	return err
}

// InsertMatchResult records a completed match.
func (db *DB) InsertMatchResult(r MatchResult) error {
	_, err := db.conn.Exec(
		`INSERT OR IGNORE INTO match_history
		(match_id, mode, player1_id, player1_alias, player2_id, player2_alias, score1, score2, winner_id, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MatchID, string(r.Mode), r.Player1.ID, r.Player1.Alias, r.Player2.ID, r.Player2.Alias,
		r.Score1, r.Score2, r.WinnerID, r.EndedAt)
	return err
}

// RecentMatches returns the user's most recent completed matches.
func (db *DB) RecentMatches(userID string, limit int) ([]MatchHistoryRow, error) {
	rows, err := db.conn.Query(
		`SELECT match_id, mode, player1_id, player1_alias, player2_id, player2_alias, score1, score2, winner_id, ended_at
		FROM match_history WHERE player1_id = ? OR player2_id = ?
		ORDER BY ended_at DESC LIMIT ?`,
		userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchHistoryRow
	for rows.Next() {
		var m MatchHistoryRow
		if err := rows.Scan(&m.MatchID, &m.Mode, &m.Player1, &m.Alias1, &m.Player2, &m.Alias2,
			&m.Score1, &m.Score2, &m.WinnerID, &m.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PruneFacts deletes facts older than the cutoff. Returns rows removed.
func (db *DB) PruneFacts(olderThan time.Duration) (int64, error) {
	res, err := db.conn.Exec("DELETE FROM facts WHERE created_at < ?", time.Now().Add(-olderThan).UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
