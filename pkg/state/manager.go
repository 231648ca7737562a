package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/matt-house-e/shortlist/pkg/persistence"
)

// Manager serializes event processing per session. One event per session is
// in flight at a time; different sessions proceed concurrently.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-session lock and returns the unlock function.
func (m *Manager) Lock(sessionID string) func() {
	m.mu.Lock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// SaveSession upserts the session snapshot into the database.
func SaveSession(db *sql.DB, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := persistence.SaveSessionState(db, s.ID, string(s.Phase), string(data)); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", s.ID, err)
	}
	return nil
}

// LoadSession restores a session snapshot by id. Returns
// persistence.ErrSessionNotFound when no snapshot exists.
func LoadSession(db *sql.DB, sessionID string) (*Session, error) {
	snapshot, err := persistence.GetSessionState(db, sessionID)
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal([]byte(snapshot.StateJSON), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	return &s, nil
}
