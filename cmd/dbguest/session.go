package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Session is a bearer token saved by login.
type Session struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	ServerURL string    `json:"server_url"`
}

// SessionManager stores the session under the user's home directory.
type SessionManager struct {
	sessionPath string
}

// NewSessionManager keeps the session in ~/.dbguest, or ./.dbguest when
// the home directory is unknown.
func NewSessionManager() *SessionManager {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return NewSessionManagerAt(filepath.Join(homeDir, ".dbguest"))
}

// NewSessionManagerAt keeps session.json inside dir.
func NewSessionManagerAt(dir string) *SessionManager {
	return &SessionManager{sessionPath: filepath.Join(dir, "session.json")}
}

// SaveSession writes session readable by the current user only.
func (sm *SessionManager) SaveSession(session *Session) error {
	if err := os.MkdirAll(filepath.Dir(sm.sessionPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sm.sessionPath, data, 0o600)
}

// LoadSession returns nil without error when no valid session exists.
// Expired sessions are removed.
func (sm *SessionManager) LoadSession() (*Session, error) {
	data, err := os.ReadFile(sm.sessionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	if time.Now().After(session.ExpiresAt) {
		_ = sm.ClearSession()
		return nil, nil
	}
	return &session, nil
}

// ClearSession removes the session file. A missing file is not an error.
func (sm *SessionManager) ClearSession() error {
	if err := os.Remove(sm.sessionPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsLoggedIn reports whether an unexpired session is saved.
func (sm *SessionManager) IsLoggedIn() bool {
	session, err := sm.LoadSession()
	return err == nil && session != nil
}

// GetSessionPath returns the path of the session file.
func (sm *SessionManager) GetSessionPath() string {
	return sm.sessionPath
}
