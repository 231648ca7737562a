// Package persistence provides SQLite-based storage for research sessions.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session represents a research session record.
type Session struct {
	SessionID  string     `json:"session_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Status     string     `json:"status"`      // active, shutdown, completed, crashed
	ConfigJSON string     `json:"config_json"` // Snapshot of config at session start
}

// Session status constants.
const (
	SessionStatusActive    = "active"
	SessionStatusShutdown  = "shutdown"  // Graceful shutdown, resumable
	SessionStatusCompleted = "completed" // Advice delivered, not resumable
	SessionStatusCrashed   = "crashed"   // Unexpected termination, not resumable
)

// SessionState is a persisted snapshot of a session's workflow state,
// including the comparison table and checkpoint flags, stored as JSON.
type SessionState struct {
	SessionID string    `json:"session_id"`
	Phase     string    `json:"phase"`
	StateJSON string    `json:"state_json"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionContext is a persisted conversation history for a session.
type SessionContext struct {
	SessionID    string    `json:"session_id"`
	MessagesJSON string    `json:"messages_json"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateSession creates a new session record in the database.
func CreateSession(db *sql.DB, sessionID, configJSON string) error {
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, status, config_json)
		VALUES (?, ?, ?)
	`, sessionID, SessionStatusActive, configJSON)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// UpdateSessionStatus updates the status and ended_at timestamp of a session.
func UpdateSessionStatus(db *sql.DB, sessionID, status string) error {
	var result sql.Result
	var err error
	if status == SessionStatusShutdown || status == SessionStatusCompleted || status == SessionStatusCrashed {
		result, err = db.Exec(`
			UPDATE sessions
			SET status = ?, ended_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
			WHERE session_id = ?
		`, status, sessionID)
	} else {
		result, err = db.Exec(`
			UPDATE sessions SET status = ? WHERE session_id = ?
		`, status, sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// scanSession scans a session row into a Session struct.
func scanSession(row *sql.Row) (*Session, error) {
	var session Session
	var startedAt string
	var endedAt sql.NullString
	err := row.Scan(&session.SessionID, &startedAt, &endedAt, &session.Status, &session.ConfigJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if t, parseErr := time.Parse(time.RFC3339Nano, startedAt); parseErr == nil {
		session.StartedAt = t
	}
	if endedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, endedAt.String); parseErr == nil {
			session.EndedAt = &t
		}
	}

	return &session, nil
}

// GetResumableSession returns the most recent session with status='shutdown'.
// Returns ErrSessionNotFound if no resumable session exists.
func GetResumableSession(db *sql.DB) (*Session, error) {
	row := db.QueryRow(`
		SELECT session_id, started_at, ended_at, status, config_json
		FROM sessions
		WHERE status = ?
		ORDER BY ended_at DESC
		LIMIT 1
	`, SessionStatusShutdown)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get resumable session: %w", err)
	}
	return session, nil
}

// GetMostRecentResumableSession returns the most recent session that can be resumed.
// Returns nil, nil if no resumable session exists (this is not an error condition).
//
//nolint:nilnil // Returning nil,nil is intentional - no resumable session is a valid (non-error) outcome
func GetMostRecentResumableSession(db *sql.DB) (*Session, error) {
	session, err := GetResumableSession(db)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// GetSession returns a session by ID.
// Returns ErrSessionNotFound if the session does not exist.
func GetSession(db *sql.DB, sessionID string) (*Session, error) {
	row := db.QueryRow(`
		SELECT session_id, started_at, ended_at, status, config_json
		FROM sessions
		WHERE session_id = ?
	`, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// MarkStaleSessions marks any 'active' sessions as 'crashed'.
// This should be called at startup to detect sessions that didn't shut down gracefully.
func MarkStaleSessions(db *sql.DB) (int64, error) {
	result, err := db.Exec(`
		UPDATE sessions
		SET status = ?, ended_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE status = ?
	`, SessionStatusCrashed, SessionStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale sessions: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// SaveSessionState saves or updates the workflow state snapshot for a session.
func SaveSessionState(db *sql.DB, sessionID, phase, stateJSON string) error {
	_, err := db.Exec(`
		INSERT INTO session_state (session_id, phase, state_json, updated_at)
		VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(session_id) DO UPDATE SET
			phase = excluded.phase,
			state_json = excluded.state_json,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, sessionID, phase, stateJSON)
	if err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}

// GetSessionState returns the saved workflow state for a session.
// Returns ErrSessionNotFound if no state exists.
func GetSessionState(db *sql.DB, sessionID string) (*SessionState, error) {
	row := db.QueryRow(`
		SELECT session_id, phase, state_json, updated_at
		FROM session_state
		WHERE session_id = ?
	`, sessionID)

	var state SessionState
	var updatedAt string
	err := row.Scan(&state.SessionID, &state.Phase, &state.StateJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session state: %w", err)
	}
	if t, parseErr := time.Parse(time.RFC3339Nano, updatedAt); parseErr == nil {
		state.UpdatedAt = t
	}
	return &state, nil
}

// SaveSessionContext saves or updates the conversation history for a session.
func SaveSessionContext(db *sql.DB, sessionID, messagesJSON string) error {
	_, err := db.Exec(`
		INSERT INTO session_contexts (session_id, messages_json, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(session_id) DO UPDATE SET
			messages_json = excluded.messages_json,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, sessionID, messagesJSON)
	if err != nil {
		return fmt.Errorf("failed to save session context: %w", err)
	}
	return nil
}

// GetSessionContext returns the conversation history for a session.
// Returns ErrSessionNotFound if no context exists.
func GetSessionContext(db *sql.DB, sessionID string) (*SessionContext, error) {
	row := db.QueryRow(`
		SELECT session_id, messages_json, updated_at
		FROM session_contexts
		WHERE session_id = ?
	`, sessionID)

	var sc SessionContext
	var updatedAt string
	err := row.Scan(&sc.SessionID, &sc.MessagesJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session context: %w", err)
	}
	if t, parseErr := time.Parse(time.RFC3339Nano, updatedAt); parseErr == nil {
		sc.UpdatedAt = t
	}
	return &sc, nil
}

// CleanupOldSessionData removes state data from sessions other than the specified one.
// This keeps only the most recent session's data to prevent unbounded growth.
func CleanupOldSessionData(db *sql.DB, keepSessionID string) error {
	tables := []string{
		"session_state",
		"session_contexts",
	}

	for _, table := range tables {
		//nolint:gosec // table names are hardcoded constants, not user input
		_, err := db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE session_id != ?`, table), keepSessionID)
		if err != nil {
			return fmt.Errorf("failed to cleanup %s: %w", table, err)
		}
	}

	return nil
}

// ConfigSnapshotToJSON converts a config struct to JSON for storage.
func ConfigSnapshotToJSON(config interface{}) (string, error) {
	data, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}

// ConfigSnapshotFromJSON parses a JSON config snapshot.
func ConfigSnapshotFromJSON(jsonStr string, target interface{}) error {
	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}
