// Package config manages global (~/.config/devmemory/config.toml) and
// per-project (.devmemory/config.toml) configuration for devmemory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Store backends.
const (
	BackendAMS   = "ams"
	BackendLocal = "local"
)

// Config holds user-wide settings. Project files override a subset of them.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	LLM       LLMConfig       `toml:"llm"`
	Embed     EmbedConfig     `toml:"embed"`
	Keys      KeysConfig      `toml:"keys"`
	Sync      SyncConfig      `toml:"sync"`
	Search    SearchConfig    `toml:"search"`
	Knowledge KnowledgeConfig `toml:"knowledge"`
	Log       LogConfig       `toml:"log"`
}

// StoreConfig selects and configures the memory store.
type StoreConfig struct {
	Backend   string   `toml:"backend"`
	Endpoint  string   `toml:"endpoint"`
	Timeout   Duration `toml:"timeout"`
	Namespace string   `toml:"namespace"`
	UserID    string   `toml:"user_id"`
}

// LLMConfig controls the completion provider used for enrichment and answers.
type LLMConfig struct {
	Provider  string   `toml:"provider"`
	Model     string   `toml:"model"`
	MaxTokens int      `toml:"max_tokens"`
	Timeout   Duration `toml:"timeout"`
}

// EmbedConfig controls embeddings for the local store backend.
type EmbedConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	OllamaHost string `toml:"ollama_host"`
}

type KeysConfig struct {
	Anthropic string `toml:"anthropic"`
	OpenAI    string `toml:"openai"`
}

// SyncConfig controls the commit sync pipeline.
type SyncConfig struct {
	Limit               int      `toml:"limit"`
	BatchSize           int      `toml:"batch_size"`
	Enrich              bool     `toml:"enrich"`
	EnrichWorkers       int      `toml:"enrich_workers"`
	EnrichQueue         int      `toml:"enrich_queue"`
	IncludeHumanCommits bool     `toml:"include_human_commits"`
	NotesRef            string   `toml:"notes_ref"`
	StaleLockAfter      Duration `toml:"stale_lock_after"`
}

type SearchConfig struct {
	Threshold float64 `toml:"threshold"`
	Limit     int     `toml:"limit"`
	MaxTokens int     `toml:"max_context_tokens"`
}

type KnowledgeConfig struct {
	Dir     string   `toml:"dir"`
	Include []string `toml:"include"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// ProjectConfig holds per-project overrides stored in .devmemory/config.toml.
type ProjectConfig struct {
	Namespace    string `toml:"namespace"`
	KnowledgeDir string `toml:"knowledge_dir"`
	Enrich       *bool  `toml:"enrich"`
	Backend      string `toml:"backend"`
}

// Duration is a time.Duration that decodes from TOML strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend:   BackendAMS,
			Endpoint:  "http://localhost:8000",
			Timeout:   Duration{30 * time.Second},
			Namespace: "default",
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			MaxTokens: 1000,
			Timeout:   Duration{60 * time.Second},
		},
		Embed: EmbedConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			OllamaHost: "http://localhost:11434",
		},
		Sync: SyncConfig{
			Limit:          50,
			BatchSize:      50,
			Enrich:         false,
			EnrichWorkers:  2,
			EnrichQueue:    256,
			NotesRef:       "ai",
			StaleLockAfter: Duration{10 * time.Minute},
		},
		Search: SearchConfig{
			Threshold: 0.75,
			Limit:     10,
			MaxTokens: 6000,
		},
		Knowledge: KnowledgeConfig{
			Dir:     filepath.Join(".devmemory", "knowledge"),
			Include: []string{"**.md"},
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "devmemory", "config.toml"), nil
}

// StateDir returns the directory holding sync cursors and lock files.
func StateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: home dir: %w", err)
	}
	return filepath.Join(home, ".devmemory", "state"), nil
}

// LoadGlobal loads the global config, applying defaults for any missing values
// and environment overrides on top.
func LoadGlobal() (Config, error) {
	cfg := Default()

	path, err := GlobalConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("config: load global: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Keys.Anthropic = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Keys.OpenAI = v
	}
	if v := os.Getenv("DEVMEMORY_AMS_ENDPOINT"); v != "" {
		cfg.Store.Endpoint = v
	}
	if v := os.Getenv("DEVMEMORY_NAMESPACE"); v != "" {
		cfg.Store.Namespace = v
	}
	if v := os.Getenv("DEVMEMORY_USER_ID"); v != "" {
		cfg.Store.UserID = v
	}
	if v := os.Getenv("DEVMEMORY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DEVMEMORY_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

// SaveGlobal writes the global config to disk.
func SaveGlobal(cfg Config) error {
	path, err := GlobalConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create global config: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// LoadProject loads .devmemory/config.toml from the given project root.
func LoadProject(root string) (ProjectConfig, error) {
	var cfg ProjectConfig
	path := filepath.Join(ProjectDir(root), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: load project: %w", err)
	}
	return cfg, nil
}

// SaveProject writes the project config to .devmemory/config.toml.
func SaveProject(root string, cfg ProjectConfig) error {
	dir := ProjectDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir project: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "config.toml"))
	if err != nil {
		return fmt.Errorf("config: create project config: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// ProjectDir returns the path to the project's .devmemory/ directory.
func ProjectDir(root string) string {
	return filepath.Join(root, ".devmemory")
}

// LocalDBPath returns the path of the SQLite database used by the local backend.
func LocalDBPath(root string) string {
	return filepath.Join(ProjectDir(root), "memories.db")
}

// Load returns the effective config for a project root (global merged with project).
func Load(root string) (Config, error) {
	cfg, err := LoadGlobal()
	if err != nil {
		return cfg, err
	}

	project, err := LoadProject(root)
	if err != nil {
		return cfg, err
	}
	if project.Namespace != "" {
		cfg.Store.Namespace = project.Namespace
	}
	if project.KnowledgeDir != "" {
		cfg.Knowledge.Dir = project.KnowledgeDir
	}
	if project.Enrich != nil {
		cfg.Sync.Enrich = *project.Enrich
	}
	if project.Backend != "" {
		cfg.Store.Backend = project.Backend
	}
	// Env wins over project files too.
	applyEnv(&cfg)

	return cfg, nil
}
