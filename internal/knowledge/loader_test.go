package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmemory/devmemory/internal/memory"
)

func write(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newLoader() *Loader {
	fixed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return &Loader{Namespace: "proj", Now: func() time.Time { return fixed }, Logger: zerolog.Nop()}
}

const architecture = `---
topics: [Architecture, decisions]
entities: [Redis]
---
# Architecture notes

Preamble that is not a section.

## Why Redis

We already run Redis for caching.

## CLI layout

Every command lives in internal/cli.
`

func TestLoad_SectionsAndSiblingParseError(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "architecture.md", architecture)
	write(t, dir, "broken.md", "---\ntopics: [unterminated\n---\n## A\nbody\n")

	res, err := newLoader().Load(dir)
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "broken.md", res.Errors[0].Path)
	assert.Equal(t, []FileSummary{{Path: "architecture.md", Records: 2}}, res.Files)

	r := res.Records[0]
	assert.Equal(t, memory.RecordID("knowledge", "architecture.md", "section:Why Redis"), r.ID)
	assert.Equal(t, "Why Redis\n\nWe already run Redis for caching.", r.Text)
	assert.Equal(t, []string{"architecture", "decisions"}, r.Topics)
	assert.Equal(t, []string{"Redis"}, r.Entities)
	assert.Equal(t, memory.TypeSemantic, r.MemoryType)
	assert.Equal(t, "knowledge:architecture.md", r.SessionID)
	assert.Equal(t, "architecture.md#Why Redis", r.SourceRef)
	assert.Equal(t, "proj", r.Namespace)
	assert.NotContains(t, r.Text, "Preamble")
}

func TestLoad_IdsStableAcrossEdits(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "architecture.md", architecture)
	first, err := newLoader().Load(dir)
	require.NoError(t, err)

	write(t, dir, "architecture.md", architecture+"\nMore detail.\n")
	second, err := newLoader().Load(dir)
	require.NoError(t, err)

	require.Len(t, second.Records, 2)
	assert.Equal(t, first.Records[1].ID, second.Records[1].ID)
	assert.NotEqual(t, first.Records[1].Text, second.Records[1].Text)
}

func TestParse_NoSectionsUsesTitle(t *testing.T) {
	l := newLoader()
	recs, err := l.Parse("gotchas.md", []byte("# Known gotchas\n\nNever call Close twice.\n"), time.Now())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Known gotchas\n\nNever call Close twice.", recs[0].Text)
	assert.Equal(t, []string{"gotchas"}, recs[0].Topics)

	recs, err = l.Parse("team/on-call_notes.md", []byte("Page the owner first.\n"), time.Now())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "on-call_notes\n\nPage the owner first.", recs[0].Text)
	assert.Equal(t, []string{"on call notes"}, recs[0].Topics)
}

func TestParse_FrontMatterVariants(t *testing.T) {
	l := newLoader()
	recs, err := l.Parse("a.md", []byte("---\ntopics: testing\ntype: episodic\n---\n## S\nx\n"), time.Now())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"testing"}, recs[0].Topics)
	assert.Equal(t, memory.TypeEpisodic, recs[0].MemoryType)

	_, err = l.Parse("b.md", []byte("---\ntype: procedural\n---\n## S\nx\n"), time.Now())
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)

	_, err = l.Parse("c.md", []byte("---\ntopics: [a]\n## S\nx\n"), time.Now())
	assert.ErrorAs(t, err, &perr)

	_, err = l.Parse("d.md", []byte("---\ntopics: {a: 1}\n---\n## S\nx\n"), time.Now())
	assert.ErrorAs(t, err, &perr)
}

func TestParse_EmptySectionsDropped(t *testing.T) {
	recs, err := newLoader().Parse("a.md", []byte("## Empty\n\n## Full\ntext\n"), time.Now())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Full\n\ntext", recs[0].Text)
}

func TestLoad_IgnoreAndInclude(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "keep.md", "## A\na\n")
	write(t, dir, "drafts/wip.md", "## B\nb\n")
	write(t, dir, "notes.txt", "## C\nc\n")
	write(t, dir, "team/ops.md", "## D\nd\n")
	write(t, dir, IgnoreFile, "drafts/\n")

	res, err := newLoader().Load(dir)
	require.NoError(t, err)
	var files []string
	for _, f := range res.Files {
		files = append(files, f.Path)
	}
	assert.Equal(t, []string{"keep.md", "team/ops.md"}, files)

	l := newLoader()
	l.Include = []string{"team/**"}
	res, err = l.Load(dir)
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "team/ops.md", res.Files[0].Path)
}

func TestLoad_MissingDir(t *testing.T) {
	_, err := newLoader().Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.md", "## A\na\n")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan Result, 1)
	done := make(chan error, 1)
	go func() {
		done <- newLoader().Watch(ctx, dir, 50*time.Millisecond, func(res Result, err error) {
			if err == nil {
				select {
				case got <- res:
				default:
				}
			}
		})
	}()

	// Give the watcher time to register before editing.
	time.Sleep(200 * time.Millisecond)
	write(t, dir, "b.md", "## B\nb\n")

	select {
	case res := <-got:
		assert.Len(t, res.Records, 2)
	case <-ctx.Done():
		t.Fatal("watch did not report the change")
	}
	cancel()
	require.NoError(t, <-done)
}
