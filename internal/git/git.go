package git

import (
	"strings"
	"time"

	"github.com/splax/pagesdeploy/internal/executil"
)

// CommitPrefix starts every automated commit message.
const CommitPrefix = "🚀 Auto deploy - "

const commitTimeLayout = "2006-01-02 15:04:05"

// AddAll stages every change in the repository at dir.
func AddAll(dir string, timeout time.Duration) executil.Command {
	return executil.Command{Name: "git", Args: []string{"add", "."}, Dir: dir, Timeout: timeout}
}

// Commit records staged changes with the given message.
func Commit(dir, message string, timeout time.Duration) executil.Command {
	return executil.Command{Name: "git", Args: []string{"commit", "-m", message}, Dir: dir, Timeout: timeout}
}

// Push publishes the branch to the remote.
func Push(dir, remote, branch string, timeout time.Duration) executil.Command {
	return executil.Command{Name: "git", Args: []string{"push", remote, branch}, Dir: dir, Timeout: timeout}
}

// CommitMessage renders the automated commit message for the given instant.
func CommitMessage(now time.Time) string {
	return CommitPrefix + now.Format(commitTimeLayout)
}

// NothingToCommit reports whether a failed commit only meant the tree was clean.
func NothingToCommit(result executil.Result) bool {
	return strings.Contains(result.Stdout, "nothing to commit") ||
		strings.Contains(result.Stderr, "nothing to commit")
}
