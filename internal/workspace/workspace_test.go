package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewRejectsEmptyDirectories(t *testing.T) {
	if _, err := New("", "/site", "/publish"); err == nil {
		t.Fatalf("expected error for empty source")
	}
	if _, err := New("/src", " ", "/publish"); err == nil {
		t.Fatalf("expected error for empty site")
	}
	if _, err := New("/src", "/site", ""); err == nil {
		t.Fatalf("expected error for empty publish")
	}
}

func TestCheckPublish(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "missing")
	layout, err := New(root, filepath.Join(root, "_site"), missing)
	if err != nil {
		t.Fatalf("new layout: %v", err)
	}
	if err := layout.CheckPublish(); !errors.Is(err, ErrPublishMissing) {
		t.Fatalf("expected ErrPublishMissing, got %v", err)
	}

	file := filepath.Join(root, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	layout, _ = New(root, filepath.Join(root, "_site"), file)
	if err := layout.CheckPublish(); !errors.Is(err, ErrPublishMissing) {
		t.Fatalf("expected ErrPublishMissing for regular file, got %v", err)
	}

	layout, _ = New(root, filepath.Join(root, "_site"), root)
	if err := layout.CheckPublish(); err != nil {
		t.Fatalf("expected existing directory to pass, got %v", err)
	}
}

func TestMirrorCommand(t *testing.T) {
	layout, err := New("/src", "/src/_site", "/pages")
	if err != nil {
		t.Fatalf("new layout: %v", err)
	}
	cmd := layout.MirrorCommand([]string{"admin/", ".deploy_api_key", "deploy.log", "deploy_status.json", "admin/"}, time.Minute)
	got := strings.Join(cmd.Args, " ")
	want := "-av --delete --exclude=admin/ --exclude=.deploy_api_key --exclude=deploy.log --exclude=deploy_status.json --exclude=.git/ /src/_site/ /pages/"
	if got != want {
		t.Fatalf("unexpected rsync args\n got: %s\nwant: %s", got, want)
	}
	if cmd.Name != "rsync" || cmd.Timeout != time.Minute {
		t.Fatalf("unexpected command %+v", cmd)
	}
}
