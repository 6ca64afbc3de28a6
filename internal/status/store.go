package status

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"log/slog"
)

// Store persists the deployment Status as a JSON file. Reads never fail and
// writes are best-effort; problems are logged instead of returned.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// New returns a store backed by the file at path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Read returns the persisted status or the default record.
func (s *Store) Read() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Write replaces the persisted status.
func (s *Store) Write(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(st)
}

// Update applies fn to the current status and persists the result.
func (s *Store) Update(fn func(*Status)) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.read()
	fn(&st)
	s.write(st)
	return st
}

func (s *Store) read() Status {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("failed to read deploy status", "file", s.path, "error", err)
		}
		return Default()
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Error("failed to parse deploy status", "file", s.path, "error", err)
		return Default()
	}
	if st.DeployCount < 0 {
		st.DeployCount = 0
	}
	if st.LastStatus == "" {
		st.LastStatus = StateNone
	}
	return st
}

func (s *Store) write(st Status) {
	if err := s.writeFile(st); err != nil {
		s.logger.Error("failed to save deploy status", "file", s.path, "error", err)
	}
}

func (s *Store) writeFile(st Status) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}
