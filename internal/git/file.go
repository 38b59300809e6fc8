package git

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrFileNotFound means a path is not tracked at HEAD.
var ErrFileNotFound = errors.New("git: file not found at HEAD")

// BlameAuthor is one author's share of the lines blamed in a file.
type BlameAuthor struct {
	Name    string
	Lines   int
	Commits []string // "<short sha>: <subject>", oldest first
}

// Branches returns the short names of local branches, sorted.
func (h *History) Branches() ([]string, error) {
	iter, err := h.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("git: branches: %w", err)
	}
	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("git: branches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (h *History) head() (*object.Commit, error) {
	ref, err := h.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("git: head: %w", err)
	}
	c, err := h.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("git: head commit: %w", err)
	}
	return c, nil
}

// HasFile reports whether path is tracked at HEAD. path is relative to the
// work tree root and uses forward slashes.
func (h *History) HasFile(path string) (bool, error) {
	c, err := h.head()
	if err != nil {
		return false, err
	}
	if _, err := c.File(path); err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("git: file %s: %w", path, err)
	}
	return true, nil
}

// FileLog returns up to limit commits that touched path, newest first.
func (h *History) FileLog(path string, limit int) ([]CommitInfo, error) {
	c, err := h.head()
	if err != nil {
		return nil, err
	}
	iter, err := h.repo.Log(&gogit.LogOptions{From: c.Hash, FileName: &path})
	if err != nil {
		return nil, fmt.Errorf("git: log %s: %w", path, err)
	}
	defer iter.Close()

	var out []CommitInfo
	for limit <= 0 || len(out) < limit {
		c, err := iter.Next()
		if err != nil {
			break
		}
		out = append(out, toCommitInfo(c))
	}
	return out, nil
}

// Blame attributes the lines of path at HEAD to authors, most lines first.
// When symbol is set only the block declaring it is blamed; a symbol that
// cannot be found blames the whole file.
func (h *History) Blame(path, symbol string) ([]BlameAuthor, error) {
	c, err := h.head()
	if err != nil {
		return nil, err
	}
	res, err := gogit.Blame(c, path)
	if err != nil {
		return nil, fmt.Errorf("git: blame %s: %w", path, err)
	}

	lines := res.Lines
	if symbol != "" {
		text := make([]string, len(lines))
		for i, l := range lines {
			text[i] = l.Text
		}
		if from, to, ok := symbolBlock(text, symbol); ok {
			lines = lines[from:to]
		}
	}

	byName := map[string]*BlameAuthor{}
	seen := map[string]bool{}
	var order []*BlameAuthor
	for _, l := range lines {
		name := l.AuthorName
		if name == "" {
			name = l.Author
		}
		a := byName[name]
		if a == nil {
			a = &BlameAuthor{Name: name}
			byName[name] = a
			order = append(order, a)
		}
		a.Lines++
		sha := l.Hash.String()
		if seen[sha] {
			continue
		}
		seen[sha] = true
		subject := ""
		if bc, err := h.repo.CommitObject(l.Hash); err == nil {
			subject = toCommitInfo(bc).Subject
		}
		a.Commits = append(a.Commits, short(sha)+": "+subject)
	}

	out := make([]BlameAuthor, len(order))
	for i, a := range order {
		out[i] = *a
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Lines > out[j].Lines })
	return out, nil
}

// symbolBlock finds the lines declaring symbol: from the first line naming it
// through the closing line at the same indentation, or the next line that
// starts a new top-level declaration.
func symbolBlock(lines []string, symbol string) (from, to int, ok bool) {
	from = -1
	for i, l := range lines {
		if strings.Contains(l, symbol) {
			from = i
			break
		}
	}
	if from < 0 {
		return 0, 0, false
	}
	indent := len(lines[from]) - len(strings.TrimLeft(lines[from], " \t"))
	for i := from + 1; i < len(lines); i++ {
		l := lines[i]
		trimmed := strings.TrimLeft(l, " \t")
		if trimmed == "" || len(l)-len(trimmed) > indent {
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "}"), strings.HasPrefix(trimmed, ")"), trimmed == "end":
			return from, i + 1, true
		default:
			return from, i, true
		}
	}
	return from, len(lines), true
}
