package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/yourusername/linkedin-messenger/internal/logger"
)

// ErrNotFound reports that no session artifact exists yet. Callers treat it as
// "not configured", not as an I/O failure.
var ErrNotFound = errors.New("no saved session found")

// Store reads and writes the single session artifact file.
//
// The mutex only makes individual Load/Save calls consistent. Two runs that
// both Load and later Save still race, and the last writer wins.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store for the artifact at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the artifact location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether an artifact is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the artifact. A missing file returns ErrNotFound.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	st, err := Parse(data)
	if err != nil {
		return nil, err
	}

	logger.Debug("Session loaded", "path", s.path, "cookie_count", len(st.Cookies))
	return st, nil
}

// Save overwrites the artifact through a temp file and rename, so a crash
// mid-write leaves the previous artifact intact.
func (s *Store) Save(st *State) error {
	if st == nil {
		return fmt.Errorf("session state is nil")
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return s.write(data)
}

// Import validates an uploaded artifact and saves it.
func (s *Store) Import(r io.Reader) (*State, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read session upload: %w", err)
	}

	st, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := s.Save(st); err != nil {
		return nil, err
	}
	return st, nil
}

// Clear removes the artifact. Removing a missing artifact is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}

	logger.Info("Session cleared", "path", s.path)
	return nil
}

func (s *Store) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set session file mode: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	logger.Info("Session saved successfully", "path", s.path)
	return nil
}
