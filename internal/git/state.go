// Package git reads repository state for devmemory: working-tree signals via the
// git binary, AI notes, and commit history via go-git.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotRepo is returned when a directory is not inside a git work tree.
var ErrNotRepo = errors.New("git: not a git repository")

// WorkingState captures the current git status and recent history signals.
type WorkingState struct {
	Branch        string
	Modified      []string // unstaged changes
	Staged        []string // staged changes
	Untracked     []string // new files
	RecentSubject []string // subjects of the last few commits
}

// IsEmpty returns true if there is no git state to report.
func (ws WorkingState) IsEmpty() bool {
	return ws.Branch == "" && len(ws.Modified) == 0 &&
		len(ws.Staged) == 0 && len(ws.Untracked) == 0 && len(ws.RecentSubject) == 0
}

// ChangedFiles returns all files with any kind of change (staged + modified, deduplicated).
func (ws WorkingState) ChangedFiles() []string {
	seen := make(map[string]bool)
	var files []string
	for _, group := range [][]string{ws.Staged, ws.Modified} {
		for _, f := range group {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	return files
}

// CaptureWorkingState runs git commands in dir and returns the working state.
// Errors are swallowed; a non-repo directory yields an empty WorkingState.
func CaptureWorkingState(dir string, recent int) WorkingState {
	var ws WorkingState

	ws.Branch = gitOutput(dir, "rev-parse", "--abbrev-ref", "HEAD")

	porcelain := gitOutput(dir, "status", "--porcelain")
	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) < 3 {
			continue
		}
		x, y := line[0], line[1]
		path := strings.TrimSpace(line[2:])
		if path == "" {
			continue
		}

		if x == '?' && y == '?' {
			ws.Untracked = append(ws.Untracked, path)
			continue
		}
		if x == 'A' || x == 'M' || x == 'D' || x == 'R' || x == 'C' {
			ws.Staged = append(ws.Staged, path)
		}
		if y == 'M' || y == 'D' {
			ws.Modified = append(ws.Modified, path)
		}
	}

	if recent > 0 {
		log := gitOutput(dir, "log", fmt.Sprintf("-%d", recent), "--format=%s")
		for _, s := range strings.Split(log, "\n") {
			if s = strings.TrimSpace(s); s != "" {
				ws.RecentSubject = append(ws.RecentSubject, s)
			}
		}
	}

	return ws
}

// RepoRoot returns the absolute top-level directory of the repository containing dir.
func RepoRoot(dir string) (string, error) {
	out, err := Run(context.Background(), dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", ErrNotRepo
	}
	return out, nil
}

// CurrentBranch returns the short name of HEAD, or "HEAD" when detached.
func CurrentBranch(dir string) string {
	b := gitOutput(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if b == "" {
		return "HEAD"
	}
	return b
}

// ShowNote returns the note attached to sha under refs/notes/<ref>.
// found is false when the commit carries no note.
func ShowNote(ctx context.Context, dir, ref, sha string) (note string, found bool, err error) {
	out, err := Run(ctx, dir, "notes", "--ref="+ref, "show", sha)
	if err != nil {
		if strings.Contains(err.Error(), "no note found") {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

// Run executes git in dir and returns trimmed stdout. stderr is folded into the error.
func Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(out)), nil
}

// gitOutput runs a git command and returns trimmed stdout.
// Returns "" on any error.
func gitOutput(dir string, args ...string) string {
	out, err := Run(context.Background(), dir, args...)
	if err != nil {
		return ""
	}
	return out
}
