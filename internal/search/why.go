package search

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/devmemory/devmemory/internal/adapter"
	"github.com/devmemory/devmemory/internal/git"
	"github.com/devmemory/devmemory/internal/store"
)

// Why defaults.
const (
	DefaultWhyThreshold = 0.80
	DefaultWhyLimit     = 15
	whyLogLimit         = 20
	whyInputTokens      = 8000
	whyAnswerTokens     = 2000
	whyGitChars         = 2000
	minWhyMemoryTokens  = 500
)

const whyRules = `
Rules:
- Start with these headings, in this order, each on its own line followed by a blank line and bullet points:
  "Why this file exists"
  "How it evolved (key events)"
  "Who/what wrote it"
- Reference specific commits (SHA) when relevant
- Mention the agent/model if the code was AI-generated
- If the memories don't contain relevant information, say so clearly
- Focus on the "why" and "how", not just "what changed"`

const whySystemPrompt = `You are a code historian for a software project. You explain why code exists ` +
	`and how it reached its current state, like a git blame that tells the story behind the code.

Given a file path (and optionally a function or class name), its git history and memories ` +
	`retrieved from the project's memory store, write a short narrative.` + whyRules + `
- Use no other sections and keep to 8-15 bullet lines in total`

const whyVerbosePrompt = `You are a code historian for a software project. You explain why code exists ` +
	`and how it reached its current state, like a git blame that tells the story behind the code.

Given a file path (and optionally a function or class name), its git history and memories ` +
	`retrieved from the project's memory store, write a narrative.` + whyRules + `
- After the three sections you may add "Key design decisions, trade-offs and gotchas", only if the evidence supports it`

// FileHistory is the git side of a why query.
type FileHistory interface {
	FileLog(path string, limit int) ([]git.CommitInfo, error)
	Blame(path, symbol string) ([]git.BlameAuthor, error)
}

// WhyQuery asks why a file, or a symbol within it, exists.
type WhyQuery struct {
	Path      string // relative to the repository root
	Symbol    string
	Limit     int
	Threshold float64
	Namespace string
	Raw       bool
	Verbose   bool
}

// WhyAnswer is the outcome of a why query.
type WhyAnswer struct {
	Path       string
	Symbol     string
	Text       string
	GitContext string
	Results    []store.Result
	Citations  []Citation
	NoResult   bool
	Degraded   bool
	// StoreErr is set when memory search failed and only git history was used.
	StoreErr     error
	SynthesisErr error
}

// FileContext summarises the recent commits and blame for path. Missing
// history yields an empty string.
func FileContext(h FileHistory, file, symbol string) string {
	var b strings.Builder
	if log, err := h.FileLog(file, whyLogLimit); err == nil && len(log) > 0 {
		b.WriteString("Recent commits:\n")
		for _, c := range log {
			fmt.Fprintf(&b, "%s|%s|%s|%s\n", c.Hash, c.AuthorName, c.Subject, c.When.Format("2006-01-02T15:04:05Z07:00"))
		}
		b.WriteString("\n")
	}
	if authors, err := h.Blame(file, symbol); err == nil && len(authors) > 0 {
		var blame strings.Builder
		for _, a := range authors {
			fmt.Fprintf(&blame, "%s: %d line(s) across %d commit(s)\n", a.Name, a.Lines, len(a.Commits))
			for i, c := range a.Commits {
				if i == 3 {
					break
				}
				fmt.Fprintf(&blame, "  - %s\n", c)
			}
		}
		summary := blame.String()
		if len(summary) > whyGitChars {
			summary = truncateWords(summary, whyGitChars)
		}
		b.WriteString("Blame summary:\n" + summary)
	}
	return strings.TrimSpace(b.String())
}

// Why explains a file from its git history and the memories that mention it.
// Store failures fall back to git history alone; synthesis failures degrade
// to raw output.
func (s *Searcher) Why(ctx context.Context, q WhyQuery, h FileHistory) (WhyAnswer, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultWhyLimit
	}
	if q.Threshold <= 0 {
		q.Threshold = DefaultWhyThreshold
	}
	if q.Namespace == "" {
		q.Namespace = s.cfg.Namespace
	}
	ans := WhyAnswer{Path: q.Path, Symbol: q.Symbol}
	if h != nil {
		ans.GitContext = FileContext(h, q.Path, q.Symbol)
	}

	results, err := s.whyMemories(ctx, q)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", q.Path).Msg("memory search failed; using git history only")
		ans.StoreErr = err
	}
	ans.Results = results

	if len(results) == 0 && ans.GitContext == "" {
		ans.NoResult = true
		return ans, nil
	}
	if q.Raw {
		ans.Citations = citeAll(results)
		return ans, nil
	}
	if s.cfg.LLM == nil {
		ans.Degraded = true
		ans.SynthesisErr = errors.New("search: no LLM configured")
		ans.Citations = citeAll(results)
		return ans, nil
	}

	text, used, err := s.synthesizeWhy(ctx, q, ans.GitContext, results)
	if err != nil {
		s.logger.Warn().Err(err).Msg("why synthesis failed; returning raw results")
		ans.Degraded = true
		ans.SynthesisErr = err
		ans.Citations = citeAll(results)
		return ans, nil
	}
	ans.Text = text
	ans.Citations = citeAll(used)
	return ans, nil
}

// whyMemories runs the path query and, when it finds anything, a broader
// file-name query; results are merged by id, floored and sorted by distance.
func (s *Searcher) whyMemories(ctx context.Context, q WhyQuery) ([]store.Result, error) {
	queries := []struct {
		text  string
		limit int
	}{{whyQueryText(q.Path, q.Symbol), q.Limit * 3}}
	if base := path.Base(q.Path); base != q.Path {
		queries = append(queries, struct {
			text  string
			limit int
		}{base + " why changes", q.Limit})
	}

	seen := map[string]bool{}
	var merged []store.Result
	for i, wq := range queries {
		if i > 0 && len(merged) == 0 {
			break
		}
		sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		res, err := s.cfg.Store.Search(sctx, store.SearchRequest{Text: wq.text, Limit: wq.limit, Namespace: q.Namespace})
		cancel()
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("search: why: %w", err)
			}
			s.logger.Debug().Err(err).Msg("file-name query failed")
			break
		}
		for _, r := range res {
			if seen[r.Record.ID] {
				continue
			}
			seen[r.Record.ID] = true
			merged = append(merged, r)
		}
	}

	var kept []store.Result
	for _, r := range merged {
		if r.Distance < q.Threshold {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Distance < kept[j].Distance })
	if len(kept) > q.Limit {
		kept = kept[:q.Limit]
	}
	return kept, nil
}

func whyQueryText(file, symbol string) string {
	if symbol != "" {
		return file + " " + symbol + " implementation history decisions"
	}
	return file + " implementation history decisions changes"
}

func (s *Searcher) synthesizeWhy(ctx context.Context, q WhyQuery, gitContext string, results []store.Result) (string, []store.Result, error) {
	system := whySystemPrompt
	if q.Verbose {
		system = whyVerbosePrompt
	}
	target := "`" + q.Path + "`"
	if q.Symbol != "" {
		target += " (specifically `" + q.Symbol + "`)"
	}
	head := fmt.Sprintf("Explain why %s exists and how it evolved.\n\n", target)

	budget := whyInputTokens - whyAnswerTokens - s.tok.Count(system) - s.tok.Count(head)
	gitPart := s.tok.Truncate(gitContext, budget/2)
	budget -= s.tok.Count(gitPart)
	if budget < minWhyMemoryTokens {
		budget = minWhyMemoryTokens
	}

	built := s.builder.Build(results, budget)
	var user strings.Builder
	user.WriteString(head)
	if gitPart != "" {
		fmt.Fprintf(&user, "Git history for this file:\n%s\n\n", gitPart)
	}
	fmt.Fprintf(&user, "Retrieved memories (%d of %d shown):\n\n%s", len(built.Used), len(results), built.Text)

	lctx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()
	text, err := adapter.CompleteText(lctx, s.cfg.LLM, adapter.CompletionRequest{
		SystemPrompt: system,
		UserMessage:  user.String(),
		MaxTokens:    whyAnswerTokens,
	})
	if err != nil {
		return "", nil, fmt.Errorf("search: why: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, errors.New("search: why: empty answer")
	}
	return text, built.Used, nil
}

// truncateWords cuts s to max bytes, preferring the last space in the final
// fifth.
func truncateWords(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > max*4/5 {
		cut = cut[:i]
	}
	return cut + "..."
}
