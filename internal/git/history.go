package git

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// CommitInfo is the subset of a commit's metadata devmemory cares about.
type CommitInfo struct {
	Hash        string
	AuthorName  string
	AuthorEmail string
	Subject     string
	Body        string
	When        time.Time
}

// FileDiff is the change to a single path within one commit.
type FileDiff struct {
	Path      string
	Diff      string // changed lines prefixed with '+' or '-'
	Additions int
	Deletions int
	Binary    bool
}

// History reads commits and patches from a repository using go-git.
type History struct {
	repo *gogit.Repository
	root string
}

// OpenHistory opens the repository containing dir.
func OpenHistory(dir string) (*History, error) {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, ErrNotRepo
		}
		return nil, fmt.Errorf("git: open repository: %w", err)
	}
	wt, err := repo.Worktree()
	root := dir
	if err == nil {
		root = wt.Filesystem.Root()
	}
	return &History{repo: repo, root: root}, nil
}

// Root returns the work tree root.
func (h *History) Root() string { return h.root }

// Resolve returns the full hash for a revision such as "HEAD" or a branch name.
func (h *History) Resolve(rev string) (string, error) {
	hash, err := h.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", fmt.Errorf("git: resolve %s: %w", rev, err)
	}
	return hash.String(), nil
}

// Commit returns metadata for a single commit.
func (h *History) Commit(sha string) (CommitInfo, error) {
	c, err := h.repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("git: commit %s: %w", short(sha), err)
	}
	return toCommitInfo(c), nil
}

// CommitsSince returns commits reachable from rev that are newer than since,
// oldest first. An empty since walks the whole history reachable from rev.
func (h *History) CommitsSince(rev, since string) ([]CommitInfo, error) {
	tip, err := h.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("git: resolve %s: %w", rev, err)
	}

	stop := map[plumbing.Hash]bool{}
	if since != "" {
		// Everything reachable from the cursor is already synced.
		sinceIter, err := h.repo.Log(&gogit.LogOptions{From: plumbing.NewHash(since)})
		if err != nil {
			return nil, fmt.Errorf("git: log %s: %w", short(since), err)
		}
		err = sinceIter.ForEach(func(c *object.Commit) error {
			stop[c.Hash] = true
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("git: walk %s: %w", short(since), err)
		}
	}

	iter, err := h.repo.Log(&gogit.LogOptions{From: *tip})
	if err != nil {
		return nil, fmt.Errorf("git: log %s: %w", rev, err)
	}

	var commits []CommitInfo
	err = iter.ForEach(func(c *object.Commit) error {
		if stop[c.Hash] {
			return nil
		}
		commits = append(commits, toCommitInfo(c))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("git: walk %s: %w", rev, err)
	}

	// Log yields newest first.
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
// A commit counts as its own ancestor.
func (h *History) IsAncestor(ancestor, descendant string) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	a, err := h.repo.CommitObject(plumbing.NewHash(ancestor))
	if err != nil {
		return false, fmt.Errorf("git: commit %s: %w", short(ancestor), err)
	}
	d, err := h.repo.CommitObject(plumbing.NewHash(descendant))
	if err != nil {
		return false, fmt.Errorf("git: commit %s: %w", short(descendant), err)
	}
	return a.IsAncestor(d)
}

// Files returns the per-file diffs introduced by sha relative to its first
// parent, plus a diffstat summary.
func (h *History) Files(sha string) ([]FileDiff, string, error) {
	c, err := h.repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return nil, "", fmt.Errorf("git: commit %s: %w", short(sha), err)
	}

	tree, err := c.Tree()
	if err != nil {
		return nil, "", fmt.Errorf("git: tree %s: %w", short(sha), err)
	}

	var parentTree *object.Tree
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, "", fmt.Errorf("git: parent of %s: %w", short(sha), err)
		}
		if parentTree, err = parent.Tree(); err != nil {
			return nil, "", fmt.Errorf("git: parent tree of %s: %w", short(sha), err)
		}
	}

	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, "", fmt.Errorf("git: diff %s: %w", short(sha), err)
	}
	patch, err := changes.Patch()
	if err != nil {
		return nil, "", fmt.Errorf("git: patch %s: %w", short(sha), err)
	}

	var files []FileDiff
	for _, fp := range patch.FilePatches() {
		files = append(files, toFileDiff(fp))
	}
	return files, strings.TrimRight(patch.Stats().String(), "\n"), nil
}

func toFileDiff(fp diff.FilePatch) FileDiff {
	from, to := fp.Files()
	var fd FileDiff
	switch {
	case to != nil:
		fd.Path = to.Path()
	case from != nil:
		fd.Path = from.Path()
	}
	if fp.IsBinary() {
		fd.Binary = true
		return fd
	}

	var b strings.Builder
	for _, chunk := range fp.Chunks() {
		var prefix string
		switch chunk.Type() {
		case diff.Add:
			prefix = "+"
		case diff.Delete:
			prefix = "-"
		default:
			continue
		}
		content := strings.TrimSuffix(chunk.Content(), "\n")
		if content == "" {
			continue
		}
		for _, line := range strings.Split(content, "\n") {
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteByte('\n')
			if prefix == "+" {
				fd.Additions++
			} else {
				fd.Deletions++
			}
		}
	}
	fd.Diff = b.String()
	return fd
}

func toCommitInfo(c *object.Commit) CommitInfo {
	subject, body, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return CommitInfo{
		Hash:        c.Hash.String(),
		AuthorName:  c.Author.Name,
		AuthorEmail: c.Author.Email,
		Subject:     strings.TrimSpace(subject),
		Body:        strings.TrimSpace(body),
		When:        c.Author.When,
	}
}

func short(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
