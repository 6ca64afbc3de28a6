package credential

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadOrCreateGeneratesRestrictedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".deploy_api_key")
	store, err := LoadOrCreate(path, discardLogger())
	if err != nil {
		t.Fatalf("load or create: %v", err)
	}
	if len(store.Token()) < 43 {
		t.Fatalf("token too short for 256 bits: %q", store.Token())
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat credential file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read credential file: %v", err)
	}
	if string(data) != store.Token() {
		t.Fatalf("persisted token differs from returned token")
	}
}

func TestLoadOrCreateReusesExistingToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".deploy_api_key")
	if err := os.WriteFile(path, []byte("  existing-token\n"), 0o600); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	store, err := LoadOrCreate(path, discardLogger())
	if err != nil {
		t.Fatalf("load or create: %v", err)
	}
	if store.Token() != "existing-token" {
		t.Fatalf("expected stored token, got %q", store.Token())
	}

	again, err := LoadOrCreate(path, discardLogger())
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if again.Token() != store.Token() {
		t.Fatalf("token must be stable across restarts")
	}
}

func TestLoadOrCreateReplacesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".deploy_api_key")
	if err := os.WriteFile(path, []byte("\n"), 0o644); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	store, err := LoadOrCreate(path, discardLogger())
	if err != nil {
		t.Fatalf("load or create: %v", err)
	}
	if store.Token() == "" {
		t.Fatalf("expected a generated token")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected permissions tightened to 0600, got %o", perm)
	}
}

func TestLoadOrCreateFailures(t *testing.T) {
	if _, err := LoadOrCreate(" ", nil); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}
	path := filepath.Join(t.TempDir(), "missing-dir", ".deploy_api_key")
	if _, err := LoadOrCreate(path, nil); err == nil {
		t.Fatalf("expected write failure for missing parent directory")
	}
}

func TestVerify(t *testing.T) {
	store := &Store{token: "Secret-Token"}
	cases := map[string]bool{
		"Secret-Token":  true,
		"secret-token":  false,
		"Secret-Token ": false,
		"":              false,
		"Secret":        false,
	}
	for candidate, want := range cases {
		if got := store.Verify(candidate); got != want {
			t.Fatalf("Verify(%q) = %v, want %v", candidate, got, want)
		}
	}
}
