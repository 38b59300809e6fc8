package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmemory/devmemory/internal/git/gittest"
)

func TestCommitsSince_OldestFirst(t *testing.T) {
	dir := gittest.NewRepo(t)
	first := gittest.Commit(t, dir, "feat: one", map[string]string{"one.go": "package one"})
	second := gittest.Commit(t, dir, "feat: two", map[string]string{"two.go": "package two"})
	third := gittest.Commit(t, dir, "feat: three", map[string]string{"three.go": "package three"})

	h, err := OpenHistory(dir)
	require.NoError(t, err)

	commits, err := h.CommitsSince("HEAD", first)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, second, commits[0].Hash)
	assert.Equal(t, third, commits[1].Hash)
	assert.Equal(t, "feat: two", commits[0].Subject)
	assert.Equal(t, "Dev", commits[0].AuthorName)

	all, err := h.CommitsSince("HEAD", "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "initial", all[0].Subject)
}

func TestIsAncestor(t *testing.T) {
	dir := gittest.NewRepo(t)
	old := gittest.Commit(t, dir, "feat: old", map[string]string{"a.go": "package a"})
	newer := gittest.Commit(t, dir, "feat: new", map[string]string{"b.go": "package b"})

	h, err := OpenHistory(dir)
	require.NoError(t, err)

	ok, err := h.IsAncestor(old, newer)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.IsAncestor(newer, old)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.IsAncestor(newer, newer)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFiles_SplitsPerPath(t *testing.T) {
	dir := gittest.NewRepo(t)
	gittest.Commit(t, dir, "feat: base", map[string]string{"svc/a.go": "package svc\n\nfunc A() {}\n"})
	sha := gittest.Commit(t, dir, "feat: more", map[string]string{
		"svc/a.go": "package svc\n\nfunc A() int { return 1 }\n",
		"svc/b.go": "package svc\n\nfunc B() {}\n",
	})

	h, err := OpenHistory(dir)
	require.NoError(t, err)

	files, stat, err := h.Files(sha)
	require.NoError(t, err)
	require.Len(t, files, 2)

	byPath := map[string]FileDiff{}
	for _, f := range files {
		byPath[f.Path] = f
	}
	assert.Equal(t, 1, byPath["svc/a.go"].Additions)
	assert.Equal(t, 1, byPath["svc/a.go"].Deletions)
	assert.Contains(t, byPath["svc/a.go"].Diff, "+func A() int { return 1 }")
	assert.Equal(t, 3, byPath["svc/b.go"].Additions)
	assert.Contains(t, stat, "svc/b.go")
}

func TestFiles_RootCommit(t *testing.T) {
	dir := gittest.NewRepo(t)
	h, err := OpenHistory(dir)
	require.NoError(t, err)

	head, err := h.Resolve("HEAD")
	require.NoError(t, err)

	files, _, err := h.Files(head)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, ".gitkeep", files[0].Path)
}
