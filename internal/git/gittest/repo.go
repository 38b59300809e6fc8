// Package gittest creates throwaway git repositories for tests.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// NewRepo creates a temp dir with a git repo and an initial commit.
func NewRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	dir := t.TempDir()
	Git(t, dir, "init", "-q", "-b", "main")
	Git(t, dir, "config", "user.email", "dev@example.com")
	Git(t, dir, "config", "user.name", "Dev")
	Git(t, dir, "config", "commit.gpgsign", "false")

	Commit(t, dir, "initial", map[string]string{".gitkeep": ""})
	return dir
}

// Commit writes files, stages them, commits with msg and returns the new hash.
func Commit(t *testing.T, dir, msg string, files map[string]string) string {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		Git(t, dir, "add", name)
	}
	Git(t, dir, "commit", "-q", "--allow-empty", "-m", msg)
	return Git(t, dir, "rev-parse", "HEAD")
}

// AddNote attaches note to sha under refs/notes/<ref>.
func AddNote(t *testing.T, dir, ref, sha, note string) {
	t.Helper()
	Git(t, dir, "notes", "--ref="+ref, "add", "-f", "-m", note, sha)
}

// Git runs git in dir and returns trimmed combined output, failing the test on error.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}
