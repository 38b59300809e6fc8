package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmemory/devmemory/internal/git/gittest"
)

const uploadV1 = `package upload

func Upload() error {
	return nil
}
`

const uploadV2 = `package upload

func Upload() error {
	return retry(send)
}

func Helper() {}
`

func TestFileLog_OnlyCommitsTouchingPath(t *testing.T) {
	dir := gittest.NewRepo(t)
	first := gittest.Commit(t, dir, "feat: upload", map[string]string{"upload/upload.go": uploadV1})
	gittest.Commit(t, dir, "docs: readme", map[string]string{"README.md": "# x"})
	second := gittest.Commit(t, dir, "fix: retry uploads", map[string]string{"upload/upload.go": uploadV2})

	h, err := OpenHistory(dir)
	require.NoError(t, err)

	log, err := h.FileLog("upload/upload.go", 0)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, second, log[0].Hash)
	assert.Equal(t, first, log[1].Hash)

	limited, err := h.FileLog("upload/upload.go", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestHasFile(t *testing.T) {
	dir := gittest.NewRepo(t)
	gittest.Commit(t, dir, "feat: upload", map[string]string{"upload/upload.go": uploadV1})

	h, err := OpenHistory(dir)
	require.NoError(t, err)

	ok, err := h.HasFile("upload/upload.go")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.HasFile("upload/missing.go")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlame_GroupsByAuthor(t *testing.T) {
	dir := gittest.NewRepo(t)
	gittest.Commit(t, dir, "feat: upload", map[string]string{"upload/upload.go": uploadV1})
	gittest.Git(t, dir, "config", "user.name", "Sam")
	gittest.Commit(t, dir, "fix: retry uploads", map[string]string{"upload/upload.go": uploadV2})

	h, err := OpenHistory(dir)
	require.NoError(t, err)

	authors, err := h.Blame("upload/upload.go", "")
	require.NoError(t, err)
	require.Len(t, authors, 2)
	assert.Equal(t, "Dev", authors[0].Name)
	assert.GreaterOrEqual(t, authors[0].Lines, 4)
	assert.Equal(t, "Sam", authors[1].Name)
	assert.GreaterOrEqual(t, authors[1].Lines, 3)
	require.Len(t, authors[1].Commits, 1)
	assert.Contains(t, authors[1].Commits[0], ": fix: retry uploads")

	scoped, err := h.Blame("upload/upload.go", "Helper")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "Sam", scoped[0].Name)
}

func TestBranches(t *testing.T) {
	dir := gittest.NewRepo(t)
	gittest.Git(t, dir, "branch", "feature/upload")

	h, err := OpenHistory(dir)
	require.NoError(t, err)

	names, err := h.Branches()
	require.NoError(t, err)
	assert.Equal(t, []string{"feature/upload", "main"}, names)
}

func TestSymbolBlock(t *testing.T) {
	lines := []string{
		"package upload",
		"",
		"func Upload() error {",
		"\treturn nil",
		"}",
		"",
		"func Helper() {}",
	}

	from, to, ok := symbolBlock(lines, "Upload()")
	require.True(t, ok)
	assert.Equal(t, 2, from)
	assert.Equal(t, 5, to)

	from, to, ok = symbolBlock(lines, "Helper")
	require.True(t, ok)
	assert.Equal(t, 6, from)
	assert.Equal(t, 7, to)

	_, _, ok = symbolBlock(lines, "Missing")
	assert.False(t, ok)
}
