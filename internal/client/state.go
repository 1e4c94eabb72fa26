package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"quibly/internal/domain"
)

// Role distinguishes the single session authority from passive observers.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// StoredSession is the locally persisted pointer used to survive a
// restart and re-enter session restoration. It is local-only state,
// never shared through the store.
type StoredSession struct {
	SessionID string `json:"sessionId"`
	QuizCode  string `json:"quizCode"`
	Role      Role   `json:"role"`
	PlayerID  string `json:"playerId,omitempty"`
}

const (
	sessionFileName  = "active-session.json"
	identityFileName = "identity"
)

// StateStore persists the active-session pointer and the anonymous
// principal id in a state directory.
type StateStore struct {
	dir string
}

func NewStateStore(dir string) *StateStore {
	return &StateStore{dir: dir}
}

// EnsureAuth returns the stable anonymous principal for this profile,
// creating it on first use. Idempotent: subsequent calls return the same
// id. Any failure here must abort the flow that required a principal.
func (s *StateStore) EnsureAuth() (string, error) {
	path := filepath.Join(s.dir, identityFileName)
	if raw, err := os.ReadFile(path); err == nil && len(raw) > 0 {
		return string(raw), nil
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuthUnavailable, err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuthUnavailable, err)
	}
	return id, nil
}

// SaveSession persists the active-session pointer.
func (s *StateStore) SaveSession(stored StoredSession) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, sessionFileName), data, 0o600)
}

// LoadSession reads and normalizes the stored pointer. A missing or
// unreadable file yields (nil, nil): there is simply no session to
// restore.
func (s *StateStore) LoadSession() (*StoredSession, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, sessionFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var stored StoredSession
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, nil
	}
	return normalizeStoredSession(stored), nil
}

// ClearSession drops the pointer; restoration then fails closed to home.
func (s *StateStore) ClearSession() {
	_ = os.Remove(filepath.Join(s.dir, sessionFileName))
}

// normalizeStoredSession tolerates older payload shapes: a missing role
// is inferred from the presence of a player id.
func normalizeStoredSession(stored StoredSession) *StoredSession {
	if stored.SessionID == "" || stored.QuizCode == "" {
		return nil
	}
	switch stored.Role {
	case RoleHost, RolePlayer:
	default:
		if stored.PlayerID != "" {
			stored.Role = RolePlayer
		} else {
			stored.Role = RoleHost
		}
	}
	return &stored
}
