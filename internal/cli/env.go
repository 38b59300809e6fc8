package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/devmemory/devmemory/internal/adapter"
	"github.com/devmemory/devmemory/internal/capture"
	"github.com/devmemory/devmemory/internal/config"
	"github.com/devmemory/devmemory/internal/cursor"
	"github.com/devmemory/devmemory/internal/db"
	"github.com/devmemory/devmemory/internal/git"
	"github.com/devmemory/devmemory/internal/knowledge"
	"github.com/devmemory/devmemory/internal/logger"
	"github.com/devmemory/devmemory/internal/memory"
	"github.com/devmemory/devmemory/internal/search"
	"github.com/devmemory/devmemory/internal/store"
	syncpkg "github.com/devmemory/devmemory/internal/sync"
)

// env is what every command needs: the repo root, the merged config and a
// logger. Stores and adapters are opened on demand.
type env struct {
	root string
	cfg  config.Config
	log  *logger.Logger

	closers []func() error
}

// findRoot returns the enclosing git work tree, or the working directory when
// there is none.
func findRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	if root, err := git.RepoRoot(cwd); err == nil {
		return root, nil
	}
	return cwd, nil
}

// loadEnv resolves the repo root, loads config and builds the logger. quiet
// drops console log output; the log file, if configured, still receives it.
func loadEnv(quiet bool) (*env, error) {
	root, err := findRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
		Pretty: term.IsTerminal(int(os.Stderr.Fd())),
		Quiet:  quiet,
	})
	if err != nil {
		return nil, err
	}
	return &env{root: root, cfg: cfg, log: log, closers: []func() error{log.Close}}, nil
}

// Close releases everything the env opened, newest first.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// openStore opens the configured backend.
func (e *env) openStore() (store.Store, error) {
	switch e.cfg.Store.Backend {
	case config.BackendLocal:
		emb, dim := e.embedder()
		path := config.LocalDBPath(e.root)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
		database, err := db.Open(path, dim)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, database.Close)
		st := store.NewLocalStore(database, emb)
		if database.VectorsRebuilt() {
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Store.Timeout.Duration)
			n, err := st.Reindex(ctx)
			cancel()
			if err != nil {
				e.log.Warn().Err(err).Msg("reindex after vector table upgrade")
			} else {
				e.log.Info().Int("memories", n).Msg("reindexed memories for cosine search")
			}
		}
		return st, nil
	case config.BackendAMS, "":
		return store.NewAMSClient(e.cfg.Store.Endpoint, e.cfg.Store.Timeout.Duration), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want %q or %q)",
			e.cfg.Store.Backend, config.BackendAMS, config.BackendLocal)
	}
}

// embedder builds the local store's embedder. Without one the local store
// falls back to keyword search, so failures are logged, not returned.
func (e *env) embedder() (adapter.Embedder, int) {
	opts := adapter.Options{
		Provider:   e.cfg.Embed.Provider,
		EmbedModel: e.cfg.Embed.Model,
		APIKey:     e.cfg.Keys.OpenAI,
	}
	if opts.Provider == adapter.ProviderOllama {
		opts.BaseURL = e.cfg.Embed.OllamaHost
	}
	emb, err := adapter.NewEmbedder(opts)
	if err != nil {
		e.log.Warn().Err(err).Msg("embeddings unavailable, using keyword search")
		return nil, db.DefaultEmbeddingDimension
	}
	dim := db.DefaultEmbeddingDimension
	if a, ok := emb.(adapter.LLMAdapter); ok && a.Info().EmbeddingDimension > 0 {
		dim = a.Info().EmbeddingDimension
	}
	return emb, dim
}

// llm builds the completion adapter. A nil adapter with a nil error means no
// provider is configured.
func (e *env) llm() (adapter.LLMAdapter, error) {
	opts := adapter.Options{
		Provider: e.cfg.LLM.Provider,
		Model:    e.cfg.LLM.Model,
	}
	switch opts.Provider {
	case "":
		return nil, nil
	case adapter.ProviderClaude:
		opts.APIKey = e.cfg.Keys.Anthropic
	case adapter.ProviderOpenAI:
		opts.APIKey = e.cfg.Keys.OpenAI
	case adapter.ProviderOllama:
		opts.BaseURL = e.cfg.Embed.OllamaHost
	}
	return adapter.New(opts)
}

func (e *env) formatter() memory.Formatter {
	return memory.Formatter{Namespace: e.cfg.Store.Namespace, UserID: e.cfg.Store.UserID}
}

func (e *env) cursorStore(anc cursor.Ancestry) (*cursor.FileStore, error) {
	dir, err := config.StateDir()
	if err != nil {
		return nil, err
	}
	return cursor.NewFileStore(dir, anc, cursor.WithStaleLockAfter(e.cfg.Sync.StaleLockAfter.Duration)), nil
}

// syncEngine wires the pipeline for the current repository.
func (e *env) syncEngine(st store.Store, llm adapter.LLMAdapter) (*syncpkg.Engine, error) {
	hist, err := git.OpenHistory(e.root)
	if err != nil {
		return nil, err
	}
	cur, err := e.cursorStore(hist)
	if err != nil {
		return nil, err
	}

	readerCfg := capture.NotesReaderConfig{
		Dir:      e.root,
		NotesRef: e.cfg.Sync.NotesRef,
		History:  hist,
		Logger:   e.log.Logger,
	}
	if g := capture.FindGitAI(e.root); g != nil {
		readerCfg.Prompts = g
	}
	reader := capture.NewNotesReader(readerCfg)

	cfg := syncpkg.Config{
		Repo:          e.root,
		History:       hist,
		Reader:        reader,
		Formatter:     e.formatter(),
		Store:         st,
		Cursor:        cur,
		LLM:           llm,
		BatchSize:     e.cfg.Sync.BatchSize,
		EnrichWorkers: e.cfg.Sync.EnrichWorkers,
		EnrichQueue:   e.cfg.Sync.EnrichQueue,
		StoreTimeout:  e.cfg.Store.Timeout.Duration,
		LLMTimeout:    e.cfg.LLM.Timeout.Duration,
		Logger:        e.log.Logger,
	}
	if e.cfg.Sync.IncludeHumanCommits {
		cfg.Human = reader
	}
	return syncpkg.New(cfg), nil
}

func (e *env) searcher(st store.Store, llm adapter.LLMAdapter) *search.Searcher {
	return search.New(search.Config{
		Store:            st,
		LLM:              llm,
		Namespace:        e.cfg.Store.Namespace,
		Threshold:        e.cfg.Search.Threshold,
		Limit:            e.cfg.Search.Limit,
		MaxContextTokens: e.cfg.Search.MaxTokens,
		MaxAnswerTokens:  e.cfg.LLM.MaxTokens,
		StoreTimeout:     e.cfg.Store.Timeout.Duration,
		LLMTimeout:       e.cfg.LLM.Timeout.Duration,
		Logger:           e.log.Logger,
	})
}

func (e *env) loader() *knowledge.Loader {
	return &knowledge.Loader{
		Namespace: e.cfg.Store.Namespace,
		UserID:    e.cfg.Store.UserID,
		Include:   e.cfg.Knowledge.Include,
		Logger:    e.log.Logger,
	}
}

// knowledgeDir resolves dir (or the configured default) against the root.
func (e *env) knowledgeDir(dir string) string {
	if dir == "" {
		dir = e.cfg.Knowledge.Dir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(e.root, dir)
}

// spinner shows an indeterminate progress bar on an interactive stderr.
// The returned func clears it.
func spinner(desc string, quiet bool) func() {
	if quiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		return func() {}
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				bar.Add(1)
			}
		}
	}()
	return func() {
		close(done)
		bar.Finish()
	}
}

// optionalLLM is llm for callers that can work without one: errors are
// logged and yield nil.
func (e *env) optionalLLM() adapter.LLMAdapter {
	a, err := e.llm()
	if err != nil {
		e.log.Warn().Err(err).Str("provider", e.cfg.LLM.Provider).Msg("LLM unavailable")
		return nil
	}
	return a
}
