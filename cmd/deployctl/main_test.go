package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api-key":
			_, _ = w.Write([]byte(`{"api_key":"stored-key"}`))
		case "/deploy":
			if r.Header.Get("Authorization") != "Bearer stored-key" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"success":false,"message":"invalid API key"}`))
				return
			}
			_, _ = w.Write([]byte(`{"success":true,"message":"🚀 Deploy complete! (total 7)","timestamp":"2025-01-02T03:04:05Z","count":7,"deployment_id":"dep-7"}`))
		case "/status":
			_, _ = w.Write([]byte(`{"last_deploy":null,"deploy_count":0,"last_status":"none","last_message":"no deployment yet"}`))
		case "/history":
			_, _ = w.Write([]byte(`{"deployments":[]}`))
		case "/health":
			_, _ = w.Write([]byte(`{"status":"healthy","timestamp":"2025-01-02T03:04:05Z","version":"1.0.0"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestKeyThenDeployUsesSavedKey(t *testing.T) {
	srv := newTestServer(t)
	cfg := filepath.Join(t.TempDir(), "deployctl.yaml")

	out, err := run(t, "--config", cfg, "--server", srv.URL, "key")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if !strings.Contains(out, "api key saved") {
		t.Fatalf("unexpected output %q", out)
	}
	data, err := os.ReadFile(cfg)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "stored-key") {
		t.Fatalf("expected key in config, got %s", data)
	}
	info, _ := os.Stat(cfg)
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 config, got %v", info.Mode().Perm())
	}

	out, err = run(t, "--config", cfg, "--server", srv.URL, "deploy")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !strings.Contains(out, "total 7") || !strings.Contains(out, "dep-7") {
		t.Fatalf("unexpected deploy output %q", out)
	}
}

func TestDeployWrongKeyFails(t *testing.T) {
	srv := newTestServer(t)
	cfg := filepath.Join(t.TempDir(), "deployctl.yaml")

	_, err := run(t, "--config", cfg, "--server", srv.URL, "--api-key", "wrong", "deploy")
	if err == nil || !strings.Contains(err.Error(), "invalid API key") {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestStatusHistoryHealth(t *testing.T) {
	srv := newTestServer(t)
	cfg := filepath.Join(t.TempDir(), "deployctl.yaml")

	out, err := run(t, "--config", cfg, "--server", srv.URL, "status")
	if err != nil || !strings.Contains(out, "no deployment yet") || !strings.Contains(out, "never") {
		t.Fatalf("status: %q %v", out, err)
	}
	out, err = run(t, "--config", cfg, "--server", srv.URL, "history", "--limit", "3")
	if err != nil || !strings.Contains(out, "no deployments recorded") {
		t.Fatalf("history: %q %v", out, err)
	}
	out, err = run(t, "--config", cfg, "--server", srv.URL, "health")
	if err != nil || !strings.Contains(out, "healthy (version 1.0.0)") {
		t.Fatalf("health: %q %v", out, err)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("git push failed: rejected\nhint: fetch first"); got != "git push failed: rejected ..." {
		t.Fatalf("unexpected first line %q", got)
	}
}
