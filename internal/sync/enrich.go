package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/devmemory/devmemory/internal/adapter"
	"github.com/devmemory/devmemory/internal/capture"
	"github.com/devmemory/devmemory/internal/memory"
)

const enrichTopic = "commit-summary"

const enrichSystemPrompt = `You summarize a single git commit for a team knowledge base.
Reply with one JSON object and nothing else, using these keys:
  "intent":     what the change set out to do, one sentence
  "outcome":    what was actually delivered, one sentence
  "learnings":  list of facts a future developer should know
  "friction":   list of problems hit while making the change
  "open_items": list of follow-ups left undone
Use empty lists when there is nothing to say. Do not invent details.`

// EnrichmentError reports a failed enrichment. It never affects the cursor
// or the outcome of the run.
type EnrichmentError struct {
	Hash string
	Err  error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("sync: enrich %s: %v", short(e.Hash), e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// Narrative is the LLM's account of a commit.
type Narrative struct {
	Intent    string   `json:"intent"`
	Outcome   string   `json:"outcome"`
	Learnings []string `json:"learnings"`
	Friction  []string `json:"friction"`
	OpenItems []string `json:"open_items"`
}

// ErrEnrichQueueFull is recorded for commits handed to a pool whose queue
// is already full. Those commits are synced without a summary.
var ErrEnrichQueueFull = errors.New("enrichment queue full")

// enricher is a fixed set of workers fed by a buffered queue. Handing work
// to it never blocks the sync loop; only wait does.
type enricher struct {
	ctx      context.Context
	cfg      Config
	logger   zerolog.Logger
	group    *errgroup.Group
	queue    chan capture.CommitRecord
	failures chan *EnrichmentError
	enriched atomic.Int64

	collected []*EnrichmentError
	done      chan struct{}
}

func newEnricher(ctx context.Context, cfg Config, logger zerolog.Logger) *enricher {
	p := &enricher{
		ctx:      ctx,
		cfg:      cfg,
		logger:   logger,
		group:    new(errgroup.Group),
		queue:    make(chan capture.CommitRecord, cfg.EnrichQueue),
		failures: make(chan *EnrichmentError),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		for f := range p.failures {
			p.logger.Warn().Err(f).Msg("enrichment failed")
			p.collected = append(p.collected, f)
		}
	}()
	for range cfg.EnrichWorkers {
		p.group.Go(p.work)
	}
	return p
}

func (p *enricher) work() error {
	for rec := range p.queue {
		if err := p.enrich(rec); err != nil {
			p.failures <- &EnrichmentError{Hash: rec.Hash, Err: err}
			continue
		}
		p.enriched.Add(1)
	}
	return nil
}

// submit queues a commit without waiting for a worker. A full queue drops
// the commit and records ErrEnrichQueueFull.
func (p *enricher) submit(rec capture.CommitRecord) {
	select {
	case p.queue <- rec:
	default:
		p.failures <- &EnrichmentError{Hash: rec.Hash, Err: ErrEnrichQueueFull}
	}
}

// wait closes the queue, lets the workers drain it and returns the success
// count and failures.
func (p *enricher) wait() (int, []*EnrichmentError) {
	close(p.queue)
	_ = p.group.Wait()
	close(p.failures)
	<-p.done
	return int(p.enriched.Load()), p.collected
}

func (p *enricher) enrich(rec capture.CommitRecord) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.LLMTimeout)
	defer cancel()

	text, err := adapter.CompleteText(ctx, p.cfg.LLM, adapter.CompletionRequest{
		SystemPrompt: enrichSystemPrompt,
		UserMessage:  describeCommit(rec),
		MaxTokens:    600,
	})
	if err != nil {
		return err
	}
	n, err := ParseNarrative(text)
	if err != nil {
		return err
	}

	r := EnrichmentRecord(p.cfg.Formatter, rec, n)
	sctx, scancel := context.WithTimeout(p.ctx, p.cfg.StoreTimeout)
	defer scancel()
	return p.cfg.Store.Upsert(sctx, []memory.Record{r})
}

// ParseNarrative decodes the model's reply, tolerating a fenced code block.
func ParseNarrative(text string) (Narrative, error) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "{"); i >= 0 {
		if j := strings.LastIndex(text, "}"); j > i {
			text = text[i : j+1]
		}
	}
	var n Narrative
	if err := json.Unmarshal([]byte(text), &n); err != nil {
		return Narrative{}, fmt.Errorf("decode narrative: %w", err)
	}
	if n.Intent == "" && n.Outcome == "" {
		return Narrative{}, fmt.Errorf("decode narrative: empty intent and outcome")
	}
	return n, nil
}

// EnrichmentRecord builds the semantic commit-summary record for n.
func EnrichmentRecord(f memory.Formatter, c capture.CommitRecord, n Narrative) memory.Record {
	lines := []string{
		fmt.Sprintf("Commit summary: %s (%s)", c.Subject, c.ShortHash()),
	}
	if n.Intent != "" {
		lines = append(lines, "Intent: "+n.Intent)
	}
	if n.Outcome != "" {
		lines = append(lines, "Outcome: "+n.Outcome)
	}
	for _, l := range []struct {
		title string
		items []string
	}{
		{"Learnings", n.Learnings},
		{"Friction", n.Friction},
		{"Open items", n.OpenItems},
	} {
		if len(l.items) == 0 {
			continue
		}
		lines = append(lines, l.title+":")
		for _, it := range l.items {
			lines = append(lines, "- "+it)
		}
	}

	user := f.UserID
	if user == "" {
		user = c.AuthorEmail
	}
	var entities []string
	for _, p := range c.Prompts {
		if a := p.Agent(); a != "" {
			entities = append(entities, a)
		}
	}
	return memory.Record{
		ID:         memory.RecordID(memory.KindCommit, c.Hash, memory.LayerEnrichment),
		Text:       strings.Join(lines, "\n"),
		MemoryType: memory.TypeSemantic,
		Topics:     memory.NormalizeSet(append([]string{enrichTopic}, memory.TopicsFromSubject(c.Subject)...)),
		Entities:   memory.NormalizeSet(entities),
		Namespace:  f.Namespace,
		UserID:     user,
		SessionID:  memory.SessionID(c.Hash),
		SourceRef:  c.Hash,
		CreatedAt:  c.When.UTC(),
	}
}

// describeCommit is the user message sent for enrichment.
func describeCommit(c capture.CommitRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Commit %s by %s\nSubject: %s\n", c.ShortHash(), c.AuthorName, c.Subject)
	if c.Body != "" {
		fmt.Fprintf(&b, "Body:\n%s\n", c.Body)
	}
	if c.DiffStat != "" {
		fmt.Fprintf(&b, "Diff summary: %s\n", c.DiffStat)
	}
	if len(c.Files) > 0 {
		b.WriteString("Files:\n")
		for _, f := range c.Files {
			fmt.Fprintf(&b, "- %s (+%d/-%d)\n", f.Path, f.Additions, f.Deletions)
		}
	}
	for i, p := range c.Prompts {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "\nPrompt %d (%s):\n%s\n", i+1, p.Agent(), memory.FormatMessages(p.Messages, 1500))
	}
	if len(c.Files) > 0 {
		b.WriteString("\nKey changes:\n")
		var diff strings.Builder
		for _, f := range c.Files {
			diff.WriteString(f.Diff)
			diff.WriteByte('\n')
		}
		b.WriteString(memory.KeyLines(diff.String(), 3000))
	}
	return b.String()
}
