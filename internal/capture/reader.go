package capture

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/devmemory/devmemory/internal/git"
)

// Reader returns the normalized record for a commit, or ErrNotCaptured.
type Reader interface {
	Read(ctx context.Context, hash string) (CommitRecord, error)
}

// History is the slice of git history the reader needs.
type History interface {
	Commit(sha string) (git.CommitInfo, error)
	Files(sha string) ([]git.FileDiff, string, error)
}

// NoteFetcher returns the raw note for a commit; found is false when none exists.
type NoteFetcher func(ctx context.Context, sha string) (note string, found bool, err error)

// NotesReaderConfig configures a NotesReader.
type NotesReaderConfig struct {
	Dir      string
	NotesRef string
	History  History
	Prompts  PromptSource // optional
	Notes    NoteFetcher  // defaults to `git notes --ref=<NotesRef> show`
	Logger   zerolog.Logger
}

// NotesReader reads git-ai notes and commit history into CommitRecords.
type NotesReader struct {
	history History
	prompts PromptSource
	notes   NoteFetcher
	logger  zerolog.Logger
}

// NewNotesReader creates a NotesReader.
func NewNotesReader(cfg NotesReaderConfig) *NotesReader {
	ref := cfg.NotesRef
	if ref == "" {
		ref = "ai"
	}
	notes := cfg.Notes
	if notes == nil {
		dir := cfg.Dir
		notes = func(ctx context.Context, sha string) (string, bool, error) {
			return git.ShowNote(ctx, dir, ref, sha)
		}
	}
	return &NotesReader{
		history: cfg.History,
		prompts: cfg.Prompts,
		notes:   notes,
		logger:  cfg.Logger,
	}
}

// Read implements Reader.
func (r *NotesReader) Read(ctx context.Context, hash string) (CommitRecord, error) {
	raw, found, err := r.notes(ctx, hash)
	if err != nil {
		return CommitRecord{}, fmt.Errorf("capture: read note %s: %w", shortHash(hash), err)
	}
	if !found {
		return CommitRecord{}, fmt.Errorf("capture: %s: %w", shortHash(hash), ErrNotCaptured)
	}

	note, err := ParseNote(raw)
	if err != nil {
		return CommitRecord{}, &FormatError{Hash: hash, Reason: "unreadable note metadata", Err: err}
	}
	if len(note.Files) == 0 && len(note.Prompts) == 0 {
		return CommitRecord{}, &FormatError{Hash: hash, Reason: "note has no attribution entries"}
	}

	info, err := r.history.Commit(hash)
	if err != nil {
		return CommitRecord{}, fmt.Errorf("capture: %w", err)
	}
	diffs, stat, err := r.history.Files(hash)
	if err != nil {
		return CommitRecord{}, fmt.Errorf("capture: %w", err)
	}

	rec := CommitRecord{
		Hash:        info.Hash,
		AuthorName:  info.AuthorName,
		AuthorEmail: info.AuthorEmail,
		Subject:     info.Subject,
		Body:        info.Body,
		When:        info.When,
		DiffStat:    stat,
		Captured:    true,
	}
	rec.Prompts = r.resolvePrompts(ctx, hash, note)
	rec.Files = mergeFiles(diffs, note.Files)
	rec.Stats = r.resolveStats(ctx, hash, rec)
	if len(rec.Prompts) > 0 {
		rec.Agent = rec.Prompts[0].Agent()
	}
	return rec, nil
}

// ReadHuman builds a record from history alone, for commits without a note.
func (r *NotesReader) ReadHuman(hash string) (CommitRecord, error) {
	info, err := r.history.Commit(hash)
	if err != nil {
		return CommitRecord{}, fmt.Errorf("capture: %w", err)
	}
	diffs, stat, err := r.history.Files(hash)
	if err != nil {
		return CommitRecord{}, fmt.Errorf("capture: %w", err)
	}
	rec := CommitRecord{
		Hash:        info.Hash,
		AuthorName:  info.AuthorName,
		AuthorEmail: info.AuthorEmail,
		Subject:     info.Subject,
		Body:        info.Body,
		When:        info.When,
		DiffStat:    stat,
		Files:       mergeFiles(diffs, nil),
	}
	rec.Stats = deriveStats(rec)
	return rec, nil
}

func (r *NotesReader) resolvePrompts(ctx context.Context, hash string, note Note) []Prompt {
	ids := note.PromptIDs()
	if len(ids) == 0 {
		for id := range note.Prompts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	var prompts []Prompt
	for _, id := range ids {
		p, ok := note.PromptFor(id)
		if (!ok || len(p.Messages) == 0) && r.prompts != nil {
			if fromCLI, found := r.prompts.ShowPrompt(ctx, id, hash); found {
				if ok && len(fromCLI.Messages) == 0 {
					fromCLI.Messages = p.Messages
				}
				p, ok = fromCLI, true
			}
		}
		if !ok {
			r.logger.Debug().Str("sha", shortHash(hash)).Str("prompt", id).Msg("prompt metadata unavailable")
			continue
		}
		p.ID = id
		prompts = append(prompts, p)
	}
	return prompts
}

func (r *NotesReader) resolveStats(ctx context.Context, hash string, rec CommitRecord) Stats {
	if r.prompts != nil {
		if s, ok := r.prompts.Stats(ctx, hash); ok {
			return s
		}
		r.logger.Debug().Str("sha", shortHash(hash)).Msg("git-ai stats unavailable, deriving from note")
	}
	return deriveStats(rec)
}

// deriveStats computes line accounting from the note and the diff when
// git-ai cannot be asked directly.
func deriveStats(rec CommitRecord) Stats {
	var s Stats
	for _, f := range rec.Files {
		s.GitAdditions += f.Additions
		s.GitDeletions += f.Deletions
		if f.AI {
			ai := f.AILines
			if ai > f.Additions && f.Additions > 0 {
				ai = f.Additions
			}
			s.AIAdditions += ai
		}
	}
	s.HumanAdditions = s.GitAdditions - s.AIAdditions
	if s.HumanAdditions < 0 {
		s.HumanAdditions = 0
	}
	for _, p := range rec.Prompts {
		s.TotalAIAdditions += p.TotalAdditions
		s.TotalAIDeletions += p.TotalDeletions
		s.AIAccepted += p.AcceptedLines
		if agent := p.Agent(); agent != "" {
			if s.ToolModels == nil {
				s.ToolModels = map[string]int{}
			}
			s.ToolModels[agent] += p.TotalAdditions
		}
	}
	if s.AIAccepted == 0 && len(rec.Prompts) == 0 {
		s.AIAccepted = s.AIAdditions
	}
	return s
}

// mergeFiles joins diff hunks with note attribution. Files attributed in the
// note but absent from the diff are kept with an empty diff.
func mergeFiles(diffs []git.FileDiff, attributed []FileAttribution) []FileChange {
	byPath := map[string]FileAttribution{}
	for _, a := range attributed {
		byPath[a.Path] = a
	}

	seen := map[string]bool{}
	var files []FileChange
	for _, d := range diffs {
		fc := FileChange{
			Path:      d.Path,
			Diff:      d.Diff,
			Additions: d.Additions,
			Deletions: d.Deletions,
			Binary:    d.Binary,
		}
		if a, ok := byPath[d.Path]; ok {
			fc.AI = true
			fc.PromptIDs = sortedKeys(a.PromptLines)
			fc.AILines = a.Lines()
		}
		seen[d.Path] = true
		files = append(files, fc)
	}
	for _, a := range attributed {
		if seen[a.Path] {
			continue
		}
		files = append(files, FileChange{
			Path:      a.Path,
			AI:        true,
			PromptIDs: sortedKeys(a.PromptLines),
			AILines:   a.Lines(),
		})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
