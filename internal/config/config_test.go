package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, BackendAMS, cfg.Store.Backend)
	assert.Equal(t, "http://localhost:8000", cfg.Store.Endpoint)
	assert.Equal(t, 30*time.Second, cfg.Store.Timeout.Duration)
	assert.Equal(t, "default", cfg.Store.Namespace)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout.Duration)
	assert.Equal(t, 50, cfg.Sync.Limit)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 2, cfg.Sync.EnrichWorkers)
	assert.Equal(t, 256, cfg.Sync.EnrichQueue)
	assert.False(t, cfg.Sync.Enrich, "enrichment is opt-in")
	assert.False(t, cfg.Sync.IncludeHumanCommits)
	assert.Equal(t, "ai", cfg.Sync.NotesRef)
	assert.InDelta(t, 0.75, cfg.Search.Threshold, 1e-9)
	assert.Equal(t, filepath.Join(".devmemory", "knowledge"), cfg.Knowledge.Dir)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLocalDBPath(t *testing.T) {
	got := LocalDBPath("/home/user/project")
	want := filepath.Join("/home/user/project", ".devmemory", "memories.db")
	assert.Equal(t, want, got)
}

func TestLoadProject_NoFile(t *testing.T) {
	cfg, err := LoadProject(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.Namespace)
}

func TestSaveAndLoadProject(t *testing.T) {
	dir := t.TempDir()
	enrich := true

	require.NoError(t, SaveProject(dir, ProjectConfig{Namespace: "team-a", Enrich: &enrich}))

	loaded, err := LoadProject(dir)
	require.NoError(t, err)
	assert.Equal(t, "team-a", loaded.Namespace)
	require.NotNil(t, loaded.Enrich)
	assert.True(t, *loaded.Enrich)
}

func TestLoad_MergesProjectOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DEVMEMORY_NAMESPACE", "")
	dir := t.TempDir()
	enrich := true
	require.NoError(t, SaveProject(dir, ProjectConfig{
		Namespace:    "payments",
		KnowledgeDir: "docs/knowledge",
		Enrich:       &enrich,
		Backend:      BackendLocal,
	}))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "payments", cfg.Store.Namespace)
	assert.Equal(t, "docs/knowledge", cfg.Knowledge.Dir)
	assert.True(t, cfg.Sync.Enrich)
	assert.Equal(t, BackendLocal, cfg.Store.Backend)
}

func TestLoadGlobal_ReadsFileAndDurations(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(home, ".config", "devmemory", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
endpoint = "http://ams.internal:9000"
timeout = "5s"

[sync]
enrich = true
`), 0o644))

	cfg, err := LoadGlobal()
	require.NoError(t, err)
	assert.Equal(t, "http://ams.internal:9000", cfg.Store.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout.Duration)
	assert.True(t, cfg.Sync.Enrich)
	assert.Equal(t, 50, cfg.Sync.Limit, "unset keys keep defaults")
}

func TestLoadGlobal_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "test-key-123")
	t.Setenv("DEVMEMORY_AMS_ENDPOINT", "http://override:8000")
	t.Setenv("DEVMEMORY_LOG_LEVEL", "debug")

	cfg, err := LoadGlobal()
	require.NoError(t, err)
	assert.Equal(t, "test-key-123", cfg.Keys.Anthropic)
	assert.Equal(t, "http://override:8000", cfg.Store.Endpoint)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestSaveGlobal_RoundTripsDuration(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := Default()
	cfg.LLM.Timeout = Duration{90 * time.Second}

	require.NoError(t, SaveGlobal(cfg))

	loaded, err := LoadGlobal()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, loaded.LLM.Timeout.Duration)
}
