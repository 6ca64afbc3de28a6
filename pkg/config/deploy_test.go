package config

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDeployConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("JEKYLL_SOURCE", dir)

	cfg := LoadDeployConfig()
	if cfg.Addr != "127.0.0.1:5000" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.SiteDir != filepath.Join(dir, "_site") {
		t.Fatalf("unexpected site dir %q", cfg.SiteDir)
	}
	if cfg.PublishDir != filepath.Join(filepath.Dir(dir), "pages") {
		t.Fatalf("unexpected publish dir %q", cfg.PublishDir)
	}
	if cfg.BuildTimeout != 120*time.Second || cfg.SyncTimeout != 60*time.Second || cfg.PushTimeout != 30*time.Second {
		t.Fatalf("unexpected timeouts %+v", cfg)
	}
	if cfg.GitRemote != "origin" || cfg.GitBranch != "main" || cfg.BuildExecutor != ExecutorHost {
		t.Fatalf("unexpected git or executor defaults %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.SyncExcludes, []string{"admin/"}) || !cfg.EventsEnabled {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 0 {
		t.Fatalf("expected CORS disabled by default, got %v", cfg.CORSOrigins)
	}
}

func TestLoadDeployConfigOverrides(t *testing.T) {
	t.Setenv("JEKYLL_SOURCE", t.TempDir())
	t.Setenv("BUILD_TIMEOUT_SECONDS", "5")
	t.Setenv("SYNC_EXCLUDES", " admin/ , drafts/,, ")
	t.Setenv("DEPLOY_RATE_LIMIT", "not-a-number")
	t.Setenv("EVENTS_ENABLED", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg := LoadDeployConfig()
	if cfg.BuildTimeout != 5*time.Second {
		t.Fatalf("expected 5s build timeout, got %s", cfg.BuildTimeout)
	}
	if !reflect.DeepEqual(cfg.SyncExcludes, []string{"admin/", "drafts/"}) {
		t.Fatalf("unexpected excludes %v", cfg.SyncExcludes)
	}
	if cfg.DeployRateLimit != 10 {
		t.Fatalf("expected fallback rate limit, got %d", cfg.DeployRateLimit)
	}
	if cfg.EventsEnabled {
		t.Fatal("expected events disabled")
	}
	if cfg.CORSOrigins != nil {
		t.Fatalf("expected empty origins, got %v", cfg.CORSOrigins)
	}
}

func TestProtectedFiles(t *testing.T) {
	cfg := DeployConfig{APIKeyFile: "/srv/deploy/.deploy_api_key", LogFile: "deploy.log", StatusFile: ""}
	got := cfg.ProtectedFiles()
	if !reflect.DeepEqual(got, []string{".deploy_api_key", "deploy.log"}) {
		t.Fatalf("unexpected protected files %v", got)
	}
}
