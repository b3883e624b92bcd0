package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SessionTTL is how long a saved login stays usable.
const SessionTTL = 24 * time.Hour

// ErrNoSession is returned by LoadSession when no valid session exists.
var ErrNoSession = errors.New("not logged in")

// Session is the CLI's saved login.
type Session struct {
	Email        string    `json:"email"`
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	LoginAt      time.Time `json:"loginAt"`
}

// Valid reports whether the session is younger than SessionTTL.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.UserID == "" || s.LoginAt.IsZero() {
		return false
	}
	return now.Sub(s.LoginAt) < SessionTTL
}

// SaveSession writes s to path with owner-only permissions.
func SaveSession(path string, s Session) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSession reads the session at path. An expired or missing session returns ErrNoSession.
func LoadSession(path string, now time.Time) (*Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !s.Valid(now) {
		return nil, ErrNoSession
	}
	return &s, nil
}

// ClearSession removes the saved session. A missing file is not an error.
func ClearSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
