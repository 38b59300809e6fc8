package sync

import (
	"context"
	"errors"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmemory/devmemory/internal/adapter"
	"github.com/devmemory/devmemory/internal/capture"
	"github.com/devmemory/devmemory/internal/memory"
)

// fakeLLM answers every completion with reply, or fails for subjects in failFor.
type fakeLLM struct {
	reply   string
	failFor string

	mu    gosync.Mutex
	calls int
}

func (f *fakeLLM) Complete(_ context.Context, req adapter.CompletionRequest) (<-chan adapter.StreamChunk, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failFor != "" && strings.Contains(req.UserMessage, f.failFor) {
		return nil, errors.New("model overloaded")
	}
	ch := make(chan adapter.StreamChunk, 1)
	ch <- adapter.StreamChunk{Text: f.reply}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }

func (f *fakeLLM) Info() adapter.ModelInfo { return adapter.ModelInfo{Name: "fake", Provider: "fake"} }

// gatedLLM holds every completion until release is closed.
type gatedLLM struct {
	release chan struct{}
	started chan struct{}
}

func (g *gatedLLM) Complete(ctx context.Context, _ adapter.CompletionRequest) (<-chan adapter.StreamChunk, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	ch := make(chan adapter.StreamChunk, 1)
	ch <- adapter.StreamChunk{Text: narrativeJSON}
	close(ch)
	return ch, nil
}

func (g *gatedLLM) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }

func (g *gatedLLM) Info() adapter.ModelInfo { return adapter.ModelInfo{Name: "gated"} }

const narrativeJSON = "```json\n" + `{"intent":"Add a handler","outcome":"Handler returns nil","learnings":["keep handlers small"],"friction":[],"open_items":["add tests"]}` + "\n```"

func TestRun_EnrichesSyncedCommits(t *testing.T) {
	f := newFixture(3)
	llm := &fakeLLM{reply: narrativeJSON}

	report, err := f.engine(func(c *Config) { c.LLM = llm }).Run(context.Background(), Options{Enrich: true})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Synced)
	assert.Equal(t, 3, report.Enriched)
	assert.Zero(t, report.EnrichFailed)

	id := memory.RecordID(memory.KindCommit, f.history.hash(2), memory.LayerEnrichment)
	r, ok := f.store.Get(id)
	require.True(t, ok)
	assert.Equal(t, memory.TypeSemantic, r.MemoryType)
	assert.True(t, r.HasTopic("commit-summary"))
	assert.Contains(t, r.Text, "Intent: Add a handler")
	assert.Contains(t, r.Text, "Open items:\n- add tests")
	assert.NotContains(t, r.Text, "Friction:")
}

func TestRun_EnrichmentFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(3)
	llm := &fakeLLM{reply: narrativeJSON, failFor: "feat: change 2"}

	report, err := f.engine(func(c *Config) { c.LLM = llm }).Run(context.Background(), Options{Enrich: true})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Synced)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 2, report.Enriched)
	require.Equal(t, 1, report.EnrichFailed)
	assert.Equal(t, f.history.hash(2), report.EnrichErrors[0].Hash)
	assert.Equal(t, f.history.hash(3), f.cursorHash(t))
}

func TestRun_EnrichmentSkippedOnDryRun(t *testing.T) {
	f := newFixture(1)
	llm := &fakeLLM{reply: narrativeJSON}
	_, err := f.engine(func(c *Config) { c.LLM = llm }).Run(context.Background(), Options{Enrich: true, DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, llm.calls)
}

func TestParseNarrative(t *testing.T) {
	n, err := ParseNarrative(narrativeJSON)
	require.NoError(t, err)
	assert.Equal(t, "Add a handler", n.Intent)
	assert.Equal(t, []string{"add tests"}, n.OpenItems)

	_, err = ParseNarrative("I cannot help with that")
	assert.Error(t, err)

	_, err = ParseNarrative(`{"learnings":["x"]}`)
	assert.Error(t, err)
}

func TestEnrichmentError(t *testing.T) {
	cause := errors.New("timeout")
	err := error(&EnrichmentError{Hash: strings.Repeat("a", 40), Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "sync: enrich aaaaaaaaaaaa: timeout", err.Error())
}

func TestDescribeCommit(t *testing.T) {
	c := capture.CommitRecord{
		Hash: strings.Repeat("b", 40), AuthorName: "Dev", Subject: "fix: retry",
		Files: []capture.FileChange{{Path: "a.go", Additions: 1, Diff: "+func Retry() {}\n"}},
	}
	got := describeCommit(c)
	assert.Contains(t, got, "Subject: fix: retry")
	assert.Contains(t, got, "- a.go (+1/-0)")
	assert.Contains(t, got, "Key changes:\nfunc Retry() {}")
}

func TestRun_CursorDoesNotWaitForEnrichment(t *testing.T) {
	f := newFixture(6)
	llm := &gatedLLM{release: make(chan struct{}), started: make(chan struct{}, 6)}
	eng := f.engine(func(c *Config) {
		c.LLM = llm
		c.EnrichWorkers = 2
	})

	type result struct {
		report Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := eng.Run(context.Background(), Options{Enrich: true})
		done <- result{r, err}
	}()

	last := f.history.hash(6)
	assert.Eventually(t, func() bool {
		st, err := f.cursor.Read("/repo", "HEAD")
		return err == nil && st.LastHash == last
	}, 2*time.Second, 5*time.Millisecond, "cursor should reach the tip while every worker is busy")

	close(llm.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 6, res.report.Synced)
	assert.Equal(t, 6, res.report.Enriched)
}

func TestRun_FullEnrichQueueDropsWithoutBlocking(t *testing.T) {
	f := newFixture(5)
	llm := &gatedLLM{release: make(chan struct{}), started: make(chan struct{}, 5)}
	eng := f.engine(func(c *Config) {
		c.LLM = llm
		c.EnrichWorkers = 1
		c.EnrichQueue = 1
	})

	done := make(chan Report, 1)
	go func() {
		r, _ := eng.Run(context.Background(), Options{Enrich: true})
		done <- r
	}()

	assert.Eventually(t, func() bool {
		st, err := f.cursor.Read("/repo", "HEAD")
		return err == nil && st.LastHash == f.history.hash(5)
	}, 2*time.Second, 5*time.Millisecond)

	close(llm.release)
	report := <-done
	assert.Equal(t, 5, report.Synced)
	assert.Equal(t, 5, report.Enriched+report.EnrichFailed)
	require.NotZero(t, report.EnrichFailed)
	for _, e := range report.EnrichErrors {
		assert.ErrorIs(t, e, ErrEnrichQueueFull)
	}
}
