package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store holds the API token for the process and persists edits to the
// JSON config record it was loaded from.
type Store struct {
	mu    sync.RWMutex
	path  string
	token string
	debug bool
}

// NewStore creates a store seeded with the token and debug flag resolved at
// startup. Edits are written to path.
func NewStore(path, token string, debug bool) *Store {
	return &Store{path: path, token: token, debug: debug}
}

// Token returns a snapshot of the current token, empty when none is set.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// HasToken reports whether a token is configured.
func (s *Store) HasToken() bool {
	return s.Token() != ""
}

// Debug returns the persisted debug flag.
func (s *Store) Debug() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.debug
}

// SetToken replaces the token and persists it.
func (s *Store) SetToken(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	return s.save(map[string]any{"api_token": token})
}

// SetDebug replaces the debug flag and persists it.
func (s *Store) SetDebug(debug bool) error {
	s.mu.Lock()
	s.debug = debug
	s.mu.Unlock()

	return s.save(map[string]any{"debug": debug})
}

// Path returns the file edits are written to
func (s *Store) Path() string {
	return s.path
}

// save merges fields into the existing record so keys this store does not
// own survive the rewrite.
func (s *Store) save(fields map[string]any) error {
	record := map[string]any{}

	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if len(data) > 0 {
			if err := json.Unmarshal(data, &record); err != nil {
				return fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("failed to read config file: %w", err)
	}

	for k, v := range fields {
		record[k] = v
	}

	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize config file: %w", err)
	}

	return nil
}
