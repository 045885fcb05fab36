// Package credential owns the OAuth credential the server uses to reach the
// storage provider: loading it at startup, exchanging authorization codes,
// and persisting every refreshed token.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// State is where a Store is in its lifecycle.
type State int

const (
	Uninitialized State = iota
	Loaded
	Refreshed
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Refreshed:
		return "refreshed"
	default:
		return "uninitialized"
	}
}

// Store holds one token and, unless it is memory-only, the JSON file backing
// it. All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	token  *oauth2.Token
	state  State
	logger *slog.Logger
}

// NewStore returns an empty store backed by path. Call Load to read it.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{path: path, logger: logger}
}

// NewMemoryStore returns a Loaded store holding tok that never touches disk.
func NewMemoryStore(tok *oauth2.Token, logger *slog.Logger) *Store {
	s := NewStore("", logger)
	s.token = cloneToken(tok)
	s.state = Loaded
	return s
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the token file. A missing file leaves the store Uninitialized.
// An unreadable or corrupt file is logged and treated as missing.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("no saved token, authorization required", "path", s.path)
			return nil
		}
		return fmt.Errorf("failed to open token file %s: %w", s.path, err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		s.logger.Warn("ignoring unreadable token file", "path", s.path, "error", err)
		return nil
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		s.logger.Warn("ignoring empty token file", "path", s.path)
		return nil
	}
	s.token = tok
	s.state = Loaded
	s.logger.Debug("loaded token", "path", s.path, "expiry", tok.Expiry)
	return nil
}

// Save writes the current token to the file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// Set replaces the held token, e.g. after an authorization code exchange.
func (s *Store) Set(tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("nil token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = cloneToken(tok)
	s.state = Loaded
	return s.saveLocked()
}

// Merge overlays the non-empty fields of tok onto the held token and rewrites
// the file. Fields tok leaves empty, typically the refresh token, are kept.
func (s *Store) Merge(tok *oauth2.Token) error {
	if tok == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := cloneToken(s.token)
	if merged == nil {
		merged = &oauth2.Token{}
	}
	if tok.AccessToken != "" {
		merged.AccessToken = tok.AccessToken
	}
	if tok.TokenType != "" {
		merged.TokenType = tok.TokenType
	}
	if tok.RefreshToken != "" {
		merged.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		merged.Expiry = tok.Expiry
	}
	if tok.ExpiresIn != 0 {
		merged.ExpiresIn = tok.ExpiresIn
	}
	s.token = merged
	s.state = Refreshed
	return s.saveLocked()
}

// Token returns a copy of the held token, or nil.
func (s *Store) Token() *oauth2.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneToken(s.token)
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// saveLocked writes to a temporary file and renames it over the old one, so
// the file always holds a complete token. Callers hold s.mu.
func (s *Store) saveLocked() error {
	if s.path == "" || s.token == nil {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.token); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return nil
}

func cloneToken(tok *oauth2.Token) *oauth2.Token {
	if tok == nil {
		return nil
	}
	c := *tok
	return &c
}
