package main

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"
)

// session is the token pair persisted between invocations.
type session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "linkgate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "linkgate")
}

func sessionPath() string { return filepath.Join(cfgDir(), "session.json") }

func saveSession(s session) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(sessionPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// loadSession returns the stored pair. An expired access token is still
// returned: reissue needs it for the denylist check.
func loadSession() (session, error) {
	b, err := os.ReadFile(sessionPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return session{}, errors.New("no session (login first)")
		}
		return session{}, err
	}
	var s session
	if err := json.Unmarshal(b, &s); err != nil {
		return session{}, err
	}
	if s.RefreshToken == "" {
		return session{}, errors.New("no session (login first)")
	}
	return s, nil
}

func clearSession() error {
	err := os.Remove(sessionPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
