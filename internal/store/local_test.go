package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmemory/devmemory/internal/db"
	"github.com/devmemory/devmemory/internal/memory"
)

type fakeEmbedder struct {
	dim int
	err error
}

// Embed maps each text to a vector with one slot per leading letter so that
// texts sharing a first word land close together.
func (f fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			v[int(w[0])%f.dim]++
		}
		out[i] = v
	}
	return out, nil
}

func openLocal(t *testing.T, emb *fakeEmbedder) *LocalStore {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "memories.db"), 8)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	if emb == nil {
		return NewLocalStore(database, nil)
	}
	return NewLocalStore(database, emb)
}

func sampleRecords() []memory.Record {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return []memory.Record{
		{ID: "r1", Text: "Switched auth to cookie sessions", MemoryType: memory.TypeSemantic,
			Topics: []string{"auth"}, Namespace: "proj", CreatedAt: at},
		{ID: "r2", Text: "File: db/migrate.go added migrations", MemoryType: memory.TypeEpisodic,
			Topics: []string{"database"}, Namespace: "proj", CreatedAt: at.Add(time.Hour)},
		{ID: "r3", Text: "auth in another project", MemoryType: memory.TypeSemantic,
			Topics: []string{"auth"}, Namespace: "other", CreatedAt: at},
	}
}

func TestLocalStore_UpsertOverwrites(t *testing.T) {
	s := openLocal(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, sampleRecords()))

	updated := sampleRecords()[0]
	updated.Text = "Switched auth to JWT"
	require.NoError(t, s.Upsert(ctx, []memory.Record{updated}))

	n, err := s.Count(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := s.Search(ctx, SearchRequest{Text: "jwt", Namespace: "proj"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].Record.ID)
	assert.Equal(t, []string{"auth"}, results[0].Record.Topics)
}

func TestLocalStore_KeywordSearchFilters(t *testing.T) {
	s := openLocal(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, sampleRecords()))

	results, err := s.Search(ctx, SearchRequest{Text: "auth sessions", Namespace: "proj"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].Record.ID)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-9)

	results, err = s.Search(ctx, SearchRequest{Text: "auth", Topics: []string{"database"}})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.Search(ctx, SearchRequest{MemoryType: memory.TypeEpisodic})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r2", results[0].Record.ID)
}

func TestLocalStore_Delete(t *testing.T) {
	s := openLocal(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, sampleRecords()))
	require.NoError(t, s.Delete(ctx, []string{"r1", "r3"}))

	n, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLocalStore_EmbedFailureIsTransient(t *testing.T) {
	s := openLocal(t, &fakeEmbedder{dim: 8, err: errors.New("connection refused")})
	if !s.db.VectorsEnabled() {
		t.Skip("sqlite-vec not available")
	}
	err := s.Upsert(context.Background(), sampleRecords())
	assert.ErrorIs(t, err, ErrTransientStore)

	n, _ := s.Count(context.Background(), "")
	assert.Equal(t, 0, n)
}

func TestLocalStore_VectorSearch(t *testing.T) {
	s := openLocal(t, &fakeEmbedder{dim: 8})
	if !s.db.VectorsEnabled() {
		t.Skip("sqlite-vec not available")
	}
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, sampleRecords()))

	results, err := s.Search(ctx, SearchRequest{Text: "Switched auth to cookie sessions", Namespace: "proj", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "r1", results[0].Record.ID)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
	for _, r := range results {
		assert.Equal(t, "proj", r.Record.Namespace)
	}
}

func TestLocalStore_RunHistory(t *testing.T) {
	s := openLocal(t, nil)
	ctx := context.Background()

	_, ok, err := s.LastRun(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordRun(ctx, Run{ID: "one", Ref: "main", Mode: "incremental", Synced: 2, StartedAt: start, FinishedAt: start.Add(time.Second)}))
	require.NoError(t, s.RecordRun(ctx, Run{ID: "two", Ref: "main", Mode: "latest", Synced: 1, StartedAt: start.Add(time.Minute), FinishedAt: start.Add(2 * time.Minute)}))

	run, ok, err := s.LastRun(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", run.ID)
	assert.Equal(t, 1, run.Synced)
}

func TestLocalStore_ReindexBackfillsMissingVectors(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "memories.db"), 8)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	if !database.VectorsEnabled() {
		t.Skip("sqlite-vec not available")
	}
	ctx := context.Background()

	// Written without an embedder, as after a vector table rebuild.
	require.NoError(t, NewLocalStore(database, nil).Upsert(ctx, sampleRecords()))

	s := NewLocalStore(database, &fakeEmbedder{dim: 8})
	n, err := s.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Reindex(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	results, err := s.Search(ctx, SearchRequest{Text: "Switched auth to cookie sessions", Namespace: "proj", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "r1", results[0].Record.ID)
}
