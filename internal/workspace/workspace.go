package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/splax/pagesdeploy/internal/executil"
)

// ErrPublishMissing reports that the publish repository directory does not exist.
var ErrPublishMissing = errors.New("publish repository not found")

// Layout owns the three directories a deployment touches: the site source, the
// build output and the publish repository.
type Layout struct {
	source  string
	site    string
	publish string
}

// New validates and normalises the directory layout.
func New(source, site, publish string) (*Layout, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("source directory cannot be empty")
	}
	if strings.TrimSpace(site) == "" {
		return nil, fmt.Errorf("site directory cannot be empty")
	}
	if strings.TrimSpace(publish) == "" {
		return nil, fmt.Errorf("publish directory cannot be empty")
	}
	return &Layout{
		source:  filepath.Clean(source),
		site:    filepath.Clean(site),
		publish: filepath.Clean(publish),
	}, nil
}

// Source is where the build tool runs.
func (l *Layout) Source() string { return l.source }

// Site is the build output directory.
func (l *Layout) Site() string { return l.site }

// Publish is the version-controlled directory that gets pushed.
func (l *Layout) Publish() string { return l.publish }

// CheckPublish ensures the publish repository exists and is a directory.
func (l *Layout) CheckPublish() error {
	info, err := os.Stat(l.publish)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrPublishMissing, l.publish)
		}
		return fmt.Errorf("check publish repository: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrPublishMissing, l.publish)
	}
	return nil
}

// MirrorCommand mirrors the build output onto the publish repository, deleting
// stale files but never touching excluded paths or the git metadata.
func (l *Layout) MirrorCommand(excludes []string, timeout time.Duration) executil.Command {
	args := []string{"-av", "--delete"}
	seen := make(map[string]struct{}, len(excludes)+1)
	for _, pattern := range append(append([]string(nil), excludes...), ".git/") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if _, ok := seen[pattern]; ok {
			continue
		}
		seen[pattern] = struct{}{}
		args = append(args, "--exclude="+pattern)
	}
	// Trailing slashes copy directory contents rather than the directory itself.
	args = append(args, withTrailingSlash(l.site), withTrailingSlash(l.publish))
	return executil.Command{Name: "rsync", Args: args, Timeout: timeout}
}

func withTrailingSlash(path string) string {
	if strings.HasSuffix(path, string(filepath.Separator)) {
		return path
	}
	return path + string(filepath.Separator)
}
