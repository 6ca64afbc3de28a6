package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"log/slog"

	"github.com/splax/pagesdeploy/pkg/crypto"
)

// ErrEmptyPath is returned when no credential file location is configured.
var ErrEmptyPath = errors.New("credential file path cannot be empty")

// Store holds the single bearer token that guards deployments.
type Store struct {
	path  string
	token string
}

// LoadOrCreate returns the token persisted at path, generating and saving a new
// one with owner-only permissions when the file is missing or empty.
func LoadOrCreate(path string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if token := strings.TrimSpace(string(data)); token != "" {
			if logger != nil {
				logger.Info("loaded existing api key", "file", path)
			}
			return &Store{path: path, token: token}, nil
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	token, err := crypto.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return nil, fmt.Errorf("write credential file: %w", err)
	}
	// WriteFile keeps the mode of a pre-existing empty file.
	if err := os.Chmod(path, 0o600); err != nil {
		return nil, fmt.Errorf("restrict credential file: %w", err)
	}
	if logger != nil {
		logger.Info("generated new api key", "file", path)
	}
	return &Store{path: path, token: token}, nil
}

// Token returns the live credential.
func (s *Store) Token() string {
	return s.token
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Verify reports whether candidate exactly matches the stored token.
func (s *Store) Verify(candidate string) bool {
	if s == nil || candidate == "" || s.token == "" {
		return false
	}
	return crypto.Equal(candidate, s.token)
}
