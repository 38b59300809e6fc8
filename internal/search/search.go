// Package search answers questions from the memory store, optionally
// synthesizing a cited answer with an LLM.
package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/devmemory/devmemory/internal/adapter"
	ctxpkg "github.com/devmemory/devmemory/internal/context"
	"github.com/devmemory/devmemory/internal/memory"
	"github.com/devmemory/devmemory/internal/store"
)

// Defaults used when Config or Query leave a field zero.
const (
	DefaultThreshold = 0.75
	DefaultLimit     = 10
	defaultMaxTokens = 6000
)

// NoResultText is the answer given when nothing clears the relevance floor.
const NoResultText = "No relevant memory found."

const systemPrompt = `You are a knowledgebase assistant for a software development project. ` +
	`You answer questions by synthesizing information from the project's memory store, ` +
	`which contains commit histories, code changes, AI prompts, and development context.

Given the user's question and retrieved memories from the store, provide a clear, concise answer.

Rules:
- Be concise and direct (2-5 sentences for simple queries, more for complex ones)
- Cite the memories you rely on with their number in square brackets, e.g. [1] or [2][3]
- Reference specific commits (SHA), files, or code patterns when relevant
- If the memories are not relevant to the question, clearly state: ` +
	`"The available memories don't contain information relevant to this question."
- Don't fabricate information not present in the memories
- Focus on answering the question, not describing the memories themselves
- When memories show a pattern of changes (e.g., multiple fixes to the same file), ` +
	`summarize the evolution rather than listing each change`

var (
	recencyWords  = []string{"recent", "latest", "last", "newest"}
	citationMarks = regexp.MustCompile(`\[(\d+)\]`)
)

// Query is one search.
type Query struct {
	Text       string
	Topics     []string
	Namespace  string
	MemoryType memory.MemoryType
	Limit      int
	Raw        bool    // skip synthesis
	Threshold  float64 // results at or above this distance are dropped
}

// Citation maps an [n] marker to the record behind it.
type Citation struct {
	N        int     `json:"n"`
	ID       string  `json:"id"`
	Source   string  `json:"source"`
	Distance float64 `json:"score"`
}

// Answer is the outcome of a search.
type Answer struct {
	Query     string         `json:"query"`
	Text      string         `json:"answer,omitempty"`
	Results   []store.Result `json:"-"`
	Citations []Citation     `json:"citations,omitempty"`
	NoResult  bool           `json:"no_result"`
	Degraded  bool           `json:"degraded,omitempty"`
	Fetched   int            `json:"fetched"`
	Filtered  int            `json:"filtered"`
	// SynthesisErr is why synthesis was skipped when Degraded is set.
	SynthesisErr error `json:"-"`
}

// Config wires a Searcher.
type Config struct {
	Store            store.Store
	LLM              adapter.LLMAdapter // nil answers with raw results
	Tokenizer        *ctxpkg.Tokenizer
	Namespace        string
	Threshold        float64
	Limit            int
	MaxContextTokens int
	MaxAnswerTokens  int
	StoreTimeout     time.Duration
	LLMTimeout       time.Duration
	Logger           zerolog.Logger
}

// Searcher runs queries against a store.
type Searcher struct {
	cfg     Config
	tok     *ctxpkg.Tokenizer
	builder *ctxpkg.Builder
	logger  zerolog.Logger
}

// New creates a Searcher.
func New(cfg Config) *Searcher {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = defaultMaxTokens
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 30 * time.Second
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 60 * time.Second
	}
	tok := cfg.Tokenizer
	if tok == nil {
		tok, _ = ctxpkg.NewTokenizer()
	}
	return &Searcher{
		cfg:     cfg,
		tok:     tok,
		builder: ctxpkg.NewBuilder(ctxpkg.NewFormatter(), tok),
		logger:  cfg.Logger.With().Str("component", "search").Logger(),
	}
}

// Search retrieves, filters and, unless q.Raw, synthesizes. Store errors are
// returned; synthesis errors degrade the answer to raw results.
func (s *Searcher) Search(ctx context.Context, q Query) (Answer, error) {
	ans := Answer{Query: q.Text}
	results, fetched, err := s.Retrieve(ctx, q)
	if err != nil {
		return ans, err
	}
	ans.Fetched = fetched
	ans.Filtered = fetched - len(results)
	ans.Results = results

	if len(results) == 0 {
		ans.NoResult = true
		ans.Text = NoResultText
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

	text, used, err := s.synthesize(ctx, q.Text, results)
	if err != nil {
		s.logger.Warn().Err(err).Msg("synthesis failed; returning raw results")
		ans.Degraded = true
		ans.SynthesisErr = err
		ans.Citations = citeAll(results)
		return ans, nil
	}
	ans.Text = text
	ans.Citations = cite(text, used)
	return ans, nil
}

// Retrieve fetches candidates and applies the relevance floor, the topic
// filter and ordering. It returns the survivors and the number fetched.
func (s *Searcher) Retrieve(ctx context.Context, q Query) ([]store.Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = s.cfg.Limit
	}
	threshold := q.Threshold
	if threshold <= 0 {
		threshold = s.cfg.Threshold
	}
	ns := q.Namespace
	if ns == "" {
		ns = s.cfg.Namespace
	}
	fetch := limit * 3
	if q.Raw {
		fetch = limit
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	candidates, err := s.cfg.Store.Search(sctx, store.SearchRequest{
		Text:       q.Text,
		Limit:      fetch,
		Namespace:  ns,
		Topics:     q.Topics,
		MemoryType: q.MemoryType,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}

	var kept []store.Result
	for _, r := range candidates {
		if r.Distance >= threshold {
			continue
		}
		if len(q.Topics) > 0 && !hasAnyTopic(r.Record, q.Topics) {
			continue
		}
		kept = append(kept, r)
	}

	if WantsRecency(q.Text) {
		sortByRecency(kept)
	} else {
		sort.SliceStable(kept, func(i, j int) bool {
			return typeRank(kept[i]) < typeRank(kept[j])
		})
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept, len(candidates), nil
}

func (s *Searcher) synthesize(ctx context.Context, question string, results []store.Result) (string, []store.Result, error) {
	built := s.builder.Build(results, s.cfg.MaxContextTokens)
	if built.Dropped > 0 {
		s.logger.Debug().Int("dropped", built.Dropped).Msg("context budget reached")
	}
	user := fmt.Sprintf("Question: %s\n\nRetrieved memories (%d results):\n\n%s", question, len(built.Used), built.Text)

	lctx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()
	text, err := adapter.CompleteText(lctx, s.cfg.LLM, adapter.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserMessage:  user,
		MaxTokens:    s.cfg.MaxAnswerTokens,
	})
	if err != nil {
		return "", nil, fmt.Errorf("search: synthesize: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, errors.New("search: synthesize: empty answer")
	}
	return text, built.Used, nil
}

// WantsRecency reports whether the query asks for the newest memories.
func WantsRecency(query string) bool {
	q := strings.ToLower(query)
	for _, w := range recencyWords {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

// sortByRecency puts the newest first; records without a timestamp go last.
func sortByRecency(results []store.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Record.CreatedAt, results[j].Record.CreatedAt
		if a.IsZero() != b.IsZero() {
			return !a.IsZero()
		}
		return a.After(b)
	})
}

func typeRank(r store.Result) int {
	if r.Record.MemoryType == memory.TypeSemantic {
		return 0
	}
	return 1
}

func hasAnyTopic(r memory.Record, topics []string) bool {
	for _, t := range topics {
		if r.HasTopic(t) {
			return true
		}
	}
	return false
}

func citeAll(results []store.Result) []Citation {
	out := make([]Citation, len(results))
	for i, r := range results {
		out[i] = citation(i+1, r)
	}
	return out
}

// cite lists the memories the answer marks with [n], in marker order. An
// answer without markers cites everything it was given.
func cite(text string, used []store.Result) []Citation {
	seen := map[int]bool{}
	var out []Citation
	for _, m := range citationMarks.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(used) || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, citation(n, used[n-1]))
	}
	if len(out) == 0 {
		return citeAll(used)
	}
	return out
}

func citation(n int, r store.Result) Citation {
	return Citation{N: n, ID: r.Record.ID, Source: memory.SourceLabel(r.Record), Distance: r.Distance}
}
