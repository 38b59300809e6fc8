package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmemory/devmemory/internal/git"
	"github.com/devmemory/devmemory/internal/git/gittest"
)

type fakeHistory struct {
	info  git.CommitInfo
	files []git.FileDiff
	stat  string
}

func (f fakeHistory) Commit(sha string) (git.CommitInfo, error) {
	info := f.info
	info.Hash = sha
	return info, nil
}

func (f fakeHistory) Files(string) ([]git.FileDiff, string, error) {
	return f.files, f.stat, nil
}

func notes(m map[string]string) NoteFetcher {
	return func(_ context.Context, sha string) (string, bool, error) {
		n, ok := m[sha]
		return n, ok, nil
	}
}

func newTestReader(m map[string]string) *NotesReader {
	return NewNotesReader(NotesReaderConfig{
		History: fakeHistory{
			info: git.CommitInfo{AuthorName: "Dev", AuthorEmail: "dev@example.com", Subject: "feat: session refresh", When: time.Unix(1700000000, 0)},
			files: []git.FileDiff{
				{Path: "src/auth/login.go", Diff: "+func Login() {}\n", Additions: 15, Deletions: 1},
				{Path: "src/auth/session.go", Diff: "+type Session struct{}\n", Additions: 8},
				{Path: "README.md", Diff: "+docs\n", Additions: 1},
			},
			stat: " 3 files changed",
		},
		Notes:  notes(m),
		Logger: zerolog.Nop(),
	})
}

func TestRead_NotCaptured(t *testing.T) {
	r := newTestReader(nil)
	_, err := r.Read(context.Background(), "0123456789abcdef")
	assert.ErrorIs(t, err, ErrNotCaptured)
}

func TestRead_NormalizesNote(t *testing.T) {
	const sha = "0123456789abcdef0123"
	r := newTestReader(map[string]string{sha: sampleNote})

	rec, err := r.Read(context.Background(), sha)
	require.NoError(t, err)

	assert.True(t, rec.Captured)
	assert.Equal(t, "cursor/claude-sonnet", rec.Agent)
	require.Len(t, rec.Prompts, 2)
	assert.Equal(t, "a1b2c3d4", rec.Prompts[0].ID)

	require.Len(t, rec.Files, 3)
	assert.Equal(t, "README.md", rec.Files[0].Path)
	assert.False(t, rec.Files[0].AI)
	assert.True(t, rec.Files[1].AI)
	assert.Equal(t, []string{"a1b2c3d4"}, rec.Files[1].PromptIDs)
	assert.Len(t, rec.AIFiles(), 2)

	assert.Equal(t, 24, rec.Stats.GitAdditions)
	assert.Equal(t, 13+7, rec.Stats.AIAdditions)
	assert.Equal(t, 4, rec.Stats.HumanAdditions)
	assert.Equal(t, 18, rec.Stats.AIAccepted)
	assert.InDelta(t, 0.9, rec.AcceptanceRate(), 1e-9)
}

func TestRead_MalformedMetadataIsFormatError(t *testing.T) {
	const sha = "badbadbadbad"
	r := newTestReader(map[string]string{sha: "main.go\n  abc 1\n---\n{oops"})

	_, err := r.Read(context.Background(), sha)
	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, sha, fe.Hash)
	assert.NotErrorIs(t, err, ErrNotCaptured)
}

func TestRead_EmptyNoteIsFormatError(t *testing.T) {
	const sha = "emptyempty00"
	r := newTestReader(map[string]string{sha: "\n\n"})

	_, err := r.Read(context.Background(), sha)
	var fe *FormatError
	assert.True(t, errors.As(err, &fe))
}

type fakePromptSource struct{}

func (fakePromptSource) ShowPrompt(_ context.Context, id, _ string) (Prompt, bool) {
	return Prompt{ID: id, Tool: "aider", Model: "gpt-4o", Messages: []Message{{Role: "user", Text: "from cli"}}}, true
}

func (fakePromptSource) Stats(context.Context, string) (Stats, bool) {
	return Stats{AIAdditions: 10, AIAccepted: 5}, true
}

func TestRead_FallsBackToPromptSource(t *testing.T) {
	const sha = "cafecafecafe"
	r := newTestReader(map[string]string{sha: "main.go\n  abc123 1-10\n"})
	r.prompts = fakePromptSource{}

	rec, err := r.Read(context.Background(), sha)
	require.NoError(t, err)
	require.Len(t, rec.Prompts, 1)
	assert.Equal(t, "aider/gpt-4o", rec.Agent)
	assert.Equal(t, "from cli", rec.Prompts[0].Messages[0].Text)
	assert.InDelta(t, 0.5, rec.AcceptanceRate(), 1e-9)
}

func TestRead_RealRepository(t *testing.T) {
	dir := gittest.NewRepo(t)
	sha := gittest.Commit(t, dir, "feat: add handler\n\nWires the handler into the router.", map[string]string{
		"api/handler.go": "package api\n\nfunc Handle() {}\n",
	})
	gittest.AddNote(t, dir, "ai", sha, "api/handler.go\n  abc123 1-3")

	h, err := git.OpenHistory(dir)
	require.NoError(t, err)
	r := NewNotesReader(NotesReaderConfig{Dir: dir, History: h, Logger: zerolog.Nop()})

	rec, err := r.Read(context.Background(), sha)
	require.NoError(t, err)
	assert.Equal(t, "feat: add handler", rec.Subject)
	assert.Equal(t, "Wires the handler into the router.", rec.Body)
	require.Len(t, rec.Files, 1)
	assert.True(t, rec.Files[0].AI)
	assert.Equal(t, 3, rec.Files[0].Additions)

	parent := gittest.Git(t, dir, "rev-parse", "HEAD~1")
	_, err = r.Read(context.Background(), parent)
	assert.ErrorIs(t, err, ErrNotCaptured)
}
