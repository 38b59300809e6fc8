// Package sync moves annotated commits into the memory store. A run walks
// Discover, Extract, Submit and Commit-Cursor for each commit in order, and
// hands synced commits to an optional enrichment pool.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/devmemory/devmemory/internal/adapter"
	"github.com/devmemory/devmemory/internal/capture"
	"github.com/devmemory/devmemory/internal/cursor"
	"github.com/devmemory/devmemory/internal/git"
	"github.com/devmemory/devmemory/internal/memory"
	"github.com/devmemory/devmemory/internal/store"
)

// Mode selects which commits a run considers.
type Mode int

const (
	// ModeIncremental syncs commits newer than the cursor.
	ModeIncremental Mode = iota
	// ModeFull ignores the cursor and re-submits every reachable commit.
	ModeFull
	// ModeLatest syncs only the tip of the ref.
	ModeLatest
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeLatest:
		return "latest"
	default:
		return "incremental"
	}
}

const (
	defaultLimit        = 50
	defaultBatchSize    = 50
	defaultStoreTimeout = 30 * time.Second
	defaultLLMTimeout   = 60 * time.Second

	// DefaultEnrichQueue covers several default-sized runs of backlog.
	DefaultEnrichQueue = 256
)

// History is the slice of git the engine walks.
type History interface {
	Resolve(rev string) (string, error)
	Commit(sha string) (git.CommitInfo, error)
	CommitsSince(rev, since string) ([]git.CommitInfo, error)
}

// HumanReader reads commits the capture tool did not annotate.
type HumanReader interface {
	ReadHuman(hash string) (capture.CommitRecord, error)
}

// RunRecorder persists a summary of each non-dry run.
type RunRecorder interface {
	RecordRun(ctx context.Context, run store.Run) error
}

// Config wires an Engine to its collaborators.
type Config struct {
	Repo      string // repository identity for cursor keys
	History   History
	Reader    capture.Reader
	Formatter memory.Formatter
	Store     store.Store
	Cursor    cursor.Store
	LLM       adapter.LLMAdapter // nil disables enrichment
	Human     HumanReader        // nil skips commits without attribution

	BatchSize     int
	EnrichWorkers int
	EnrichQueue   int // commits waiting for a worker before new ones are dropped
	StoreTimeout  time.Duration
	LLMTimeout    time.Duration
	Logger        zerolog.Logger
}

// Options controls one run.
type Options struct {
	Ref    string // defaults to HEAD
	Mode   Mode
	DryRun bool
	Limit  int // 0 means the default in incremental mode and no cap in full mode
	Enrich bool
}

// Plan is what a dry run would submit for one commit.
type Plan struct {
	Hash    string
	Subject string
	Skipped bool
	Records []memory.Record
}

// Report summarises a run.
type Report struct {
	RunID        string
	Ref          string
	Mode         Mode
	Synced       int
	Skipped      int
	Failed       int
	NotAttempted int
	Records      int
	Enriched     int
	EnrichFailed int
	Planned      []Plan
	Cursor       cursor.State
	Failures     []error
	EnrichErrors []*EnrichmentError
}

// Engine runs syncs. It is safe to reuse across runs but not to run
// concurrently for the same ref; the cursor lock rejects that.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates an Engine, filling in defaults.
func New(cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.EnrichWorkers <= 0 {
		cfg.EnrichWorkers = 2
	}
	if cfg.EnrichQueue <= 0 {
		cfg.EnrichQueue = DefaultEnrichQueue
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = defaultLLMTimeout
	}
	return &Engine{cfg: cfg, logger: cfg.Logger.With().Str("component", "sync").Logger()}
}

// Run executes one sync. A non-nil error means the run aborted; the report
// still counts everything done before that point. cursor.ErrLocked is
// returned untouched when another run holds the lock.
func (e *Engine) Run(ctx context.Context, opts Options) (report Report, err error) {
	if opts.Ref == "" {
		opts.Ref = "HEAD"
	}
	report = Report{RunID: uuid.New().String(), Ref: opts.Ref, Mode: opts.Mode}
	log := e.logger.With().Str("run_id", report.RunID).Str("ref", opts.Ref).Str("mode", opts.Mode.String()).Logger()
	started := time.Now()

	if !opts.DryRun {
		unlock, err := e.cfg.Cursor.Lock(e.cfg.Repo, opts.Ref)
		if err != nil {
			if errors.Is(err, cursor.ErrLocked) {
				log.Info().Msg("another sync holds the lock; exiting")
				return report, err
			}
			return report, fmt.Errorf("sync: lock: %w", err)
		}
		defer func() {
			if uerr := unlock(); uerr != nil {
				log.Warn().Err(uerr).Msg("release lock")
			}
		}()
	}

	state, err := e.cfg.Cursor.Read(e.cfg.Repo, opts.Ref)
	if err != nil {
		return report, fmt.Errorf("sync: read cursor: %w", err)
	}
	report.Cursor = state

	commits, err := e.discover(opts, state)
	if err != nil {
		return report, err
	}
	log.Debug().Int("commits", len(commits)).Str("since", state.LastHash).Msg("discovered")
	if len(commits) == 0 {
		return report, nil
	}

	if !opts.DryRun {
		if err := e.health(ctx); err != nil {
			return report, err
		}
		defer e.recordRun(report.RunID, opts, started, &report, log)
	}

	var pool *enricher
	if opts.Enrich && !opts.DryRun && e.cfg.LLM != nil {
		pool = newEnricher(ctx, e.cfg, log)
		defer func() {
			report.Enriched, report.EnrichErrors = pool.wait()
			report.EnrichFailed = len(report.EnrichErrors)
		}()
	}

	for i, info := range commits {
		if err := ctx.Err(); err != nil {
			report.NotAttempted += len(commits) - i
			return report, fmt.Errorf("sync: interrupted: %w", err)
		}
		clog := log.With().Str("commit", short(info.Hash)).Logger()

		rec, records, err := e.extract(ctx, info.Hash)
		var ferr *capture.FormatError
		switch {
		case errors.Is(err, capture.ErrNotCaptured):
			clog.Debug().Msg("no attribution; skipping")
		case errors.As(err, &ferr):
			clog.Warn().Err(err).Msg("malformed metadata; cursor held before this commit")
			report.Failed++
			report.Failures = append(report.Failures, err)
			report.NotAttempted += len(commits) - i - 1
			return report, nil
		case err != nil:
			report.NotAttempted += len(commits) - i
			return report, fmt.Errorf("sync: extract %s: %w", short(info.Hash), err)
		}

		if opts.DryRun {
			report.Planned = append(report.Planned, Plan{
				Hash: info.Hash, Subject: info.Subject, Skipped: records == nil, Records: records,
			})
			if records == nil {
				report.Skipped++
			} else {
				report.Records += len(records)
			}
			continue
		}

		if len(records) > 0 {
			if err := e.submit(ctx, records); err != nil {
				clog.Error().Err(err).Msg("submit failed; cursor not advanced")
				report.Failed++
				report.Failures = append(report.Failures, err)
				report.NotAttempted += len(commits) - i - 1
				return report, fmt.Errorf("sync: submit %s: %w", short(info.Hash), err)
			}
		}

		next, err := e.cfg.Cursor.Advance(e.cfg.Repo, opts.Ref, info.Hash)
		if err != nil {
			report.NotAttempted += len(commits) - i - 1
			return report, fmt.Errorf("sync: advance cursor: %w", err)
		}
		report.Cursor = next

		if len(records) == 0 {
			report.Skipped++
			continue
		}
		report.Synced++
		report.Records += len(records)
		clog.Debug().Int("records", len(records)).Msg("synced")

		if pool != nil && rec.Captured {
			pool.submit(rec)
		}
	}

	log.Info().
		Int("synced", report.Synced).
		Int("skipped", report.Skipped).
		Int("records", report.Records).
		Msg("sync finished")
	return report, nil
}

// discover lists the commits this run considers, oldest first.
func (e *Engine) discover(opts Options, state cursor.State) ([]git.CommitInfo, error) {
	tip, err := e.cfg.History.Resolve(opts.Ref)
	if err != nil {
		return nil, fmt.Errorf("sync: discover: %w", err)
	}

	if opts.Mode == ModeLatest {
		if tip == state.LastHash {
			return nil, nil
		}
		info, err := e.cfg.History.Commit(tip)
		if err != nil {
			return nil, fmt.Errorf("sync: discover: %w", err)
		}
		return []git.CommitInfo{info}, nil
	}

	since := state.LastHash
	if opts.Mode == ModeFull {
		since = ""
	}
	commits, err := e.cfg.History.CommitsSince(tip, since)
	if err != nil {
		return nil, fmt.Errorf("sync: discover: %w", err)
	}

	limit := opts.Limit
	if limit == 0 && opts.Mode == ModeIncremental {
		limit = defaultLimit
	}
	// Keep the oldest commits so the cursor never skips over unsynced ones.
	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}
	return commits, nil
}

// extract reads and formats one commit. Records are nil when the commit is
// skipped; the error is then capture.ErrNotCaptured.
func (e *Engine) extract(ctx context.Context, hash string) (capture.CommitRecord, []memory.Record, error) {
	rec, err := e.cfg.Reader.Read(ctx, hash)
	if errors.Is(err, capture.ErrNotCaptured) && e.cfg.Human != nil {
		human, herr := e.cfg.Human.ReadHuman(hash)
		if herr != nil {
			return capture.CommitRecord{}, nil, herr
		}
		records, ferr := e.cfg.Formatter.FormatHumanCommit(human)
		return human, records, ferr
	}
	if err != nil {
		return capture.CommitRecord{}, nil, err
	}
	records, err := e.cfg.Formatter.Format(rec)
	if err != nil {
		return capture.CommitRecord{}, nil, err
	}
	return rec, records, nil
}

// submit writes one commit's records in batches. The commit counts as
// submitted only when every batch succeeds.
func (e *Engine) submit(ctx context.Context, records []memory.Record) error {
	for start := 0; start < len(records); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(records))
		if err := e.upsert(ctx, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) upsert(ctx context.Context, records []memory.Record) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	err := e.cfg.Store.Upsert(ctx, records)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, store.ErrTransientStore) {
		err = fmt.Errorf("%w: %w", store.ErrTransientStore, err)
	}
	return err
}

func (e *Engine) health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	if err := e.cfg.Store.Health(ctx); err != nil {
		if errors.Is(err, store.ErrTransientStore) {
			return fmt.Errorf("sync: store unavailable: %w", err)
		}
		return fmt.Errorf("sync: store unavailable: %w: %w", store.ErrTransientStore, err)
	}
	return nil
}

func (e *Engine) recordRun(id string, opts Options, started time.Time, report *Report, log zerolog.Logger) {
	rr, ok := e.cfg.Store.(RunRecorder)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.StoreTimeout)
	defer cancel()
	err := rr.RecordRun(ctx, store.Run{
		ID:         id,
		Ref:        opts.Ref,
		Mode:       opts.Mode.String(),
		Synced:     report.Synced,
		Skipped:    report.Skipped,
		Failed:     report.Failed,
		Records:    report.Records,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("record run")
	}
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
