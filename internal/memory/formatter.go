package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/devmemory/devmemory/internal/capture"
)

const (
	maxFileSnippetChars   = 2000
	maxSummaryFiles       = 20
	maxPromptMessageChars = 1500
	maxPromptExcerpts     = 5
	promptExcerptChars    = 200
	bodyChars             = 500
	maxEntityFiles        = 10
	maxAffectedFiles      = 10

	promptRecordPrefix = "Stored AI prompt for this repository."
	defaultTopic       = "code-change"
	promptTopic        = "prompt"
)

// Formatter turns commit records into memory records. It holds no state
// besides the namespace and user it stamps on every record, so the same
// commit always yields the same records.
type Formatter struct {
	Namespace string
	UserID    string // falls back to the commit author's email
}

// Format produces the summary record, one record per file with added lines,
// and a prompt-context record when the commit carries prompt text.
func (f Formatter) Format(c capture.CommitRecord) ([]Record, error) {
	if err := validate(c); err != nil {
		return nil, err
	}

	var allDiff strings.Builder
	paths := make([]string, 0, len(c.Files))
	for _, fc := range c.Files {
		paths = append(paths, fc.Path)
		allDiff.WriteString(fc.Diff)
		allDiff.WriteByte('\n')
	}
	tech := TechFromDiff(allDiff.String())
	topics := NormalizeSet(append(TopicsFromPaths(paths), TopicsFromSubject(c.Subject)...))

	records := []Record{f.summary(c, tech, topics)}
	for _, fc := range c.Files {
		if r, ok := f.fileRecord(c, fc); ok {
			records = append(records, r)
		}
	}
	if r, ok := f.promptRecord(c, topics); ok {
		records = append(records, r)
	}
	return records, nil
}

// FormatHumanCommit produces a single episodic record for a commit that the
// capture tool did not annotate.
func (f Formatter) FormatHumanCommit(c capture.CommitRecord) ([]Record, error) {
	if err := validate(c); err != nil {
		return nil, err
	}
	var allDiff strings.Builder
	for _, fc := range c.Files {
		allDiff.WriteString(fc.Diff)
		allDiff.WriteByte('\n')
	}
	tech := TechFromDiff(allDiff.String())

	lines := []string{
		"Commit (human-authored): " + c.Subject,
		fmt.Sprintf("Author: %s <%s>", c.AuthorName, c.AuthorEmail),
		"Date: " + formatDate(c),
		"SHA: " + c.ShortHash(),
	}
	if c.Body != "" {
		lines = append(lines, "Description: "+truncate(c.Body, bodyChars))
	}
	if len(tech) > 0 {
		lines = append(lines, "Technologies: "+strings.Join(tech, ", "))
	}
	if c.DiffStat != "" {
		lines = append(lines, "Diff summary: "+c.DiffStat)
	}

	topics := TopicsFromSubject(c.Subject)
	if len(topics) == 0 {
		topics = []string{defaultTopic}
	}
	return []Record{f.record(c, LayerHuman, TypeEpisodic, lines, topics,
		UniqueSorted(append([]string{c.AuthorName}, tech...)))}, nil
}

func validate(c capture.CommitRecord) error {
	switch {
	case c.Hash == "":
		return &capture.FormatError{Reason: "missing commit hash"}
	case c.When.IsZero():
		return &capture.FormatError{Hash: c.Hash, Reason: "missing commit date"}
	}
	return nil
}

func (f Formatter) summary(c capture.CommitRecord, tech, topics []string) Record {
	lines := []string{"Commit: " + c.Subject}
	if c.Body != "" {
		lines = append(lines, "Description: "+truncate(c.Body, bodyChars))
	}
	lines = append(lines,
		fmt.Sprintf("Author: %s <%s>", c.AuthorName, c.AuthorEmail),
		"Date: "+formatDate(c),
		"SHA: "+c.ShortHash(),
	)

	if agents := agentsOf(c.Prompts); len(agents) > 0 {
		lines = append(lines, "Agent: "+strings.Join(agents, ", "))
	}

	excerpts := promptExcerpts(c.Prompts)
	for i, e := range excerpts {
		lines = append(lines, fmt.Sprintf("Prompt %d: %q", i+1, e))
	}

	s := c.Stats
	lines = append(lines, fmt.Sprintf("AI contribution: %d AI lines, %d human lines", s.AIAdditions, s.HumanAdditions))
	if rate := c.AcceptanceRate(); rate >= 0 {
		lines = append(lines, fmt.Sprintf("AI acceptance: %d lines accepted unchanged (%d%%)", s.AIAccepted, percent(rate)))
	}
	if s.MixedAdditions > 0 {
		lines = append(lines, fmt.Sprintf("Mixed (AI + human edit): %d lines", s.MixedAdditions))
	}
	if s.WaitingForAI > 0 {
		lines = append(lines, fmt.Sprintf("Time waiting for AI: %.0fs", s.WaitingForAI.Seconds()))
	}
	for _, tm := range sortedToolModels(s.ToolModels) {
		lines = append(lines, fmt.Sprintf("  %s: %d lines", tm, s.ToolModels[tm]))
	}

	if len(tech) > 0 {
		lines = append(lines, "Technologies: "+strings.Join(tech, ", "))
	}

	var aiPaths []string
	for _, fc := range c.AIFiles() {
		aiPaths = append(aiPaths, fc.Path)
	}
	if len(aiPaths) > 0 {
		shown := aiPaths
		if len(shown) > maxSummaryFiles {
			shown = shown[:maxSummaryFiles]
		}
		lines = append(lines, "Files with AI code: "+strings.Join(shown, ", "))
		if extra := len(aiPaths) - len(shown); extra > 0 {
			lines = append(lines, fmt.Sprintf("  ... and %d more", extra))
		}
	}
	if c.DiffStat != "" {
		lines = append(lines, "Diff summary: "+c.DiffStat)
	}

	entities := append([]string{c.AuthorName}, tech...)
	for i, fc := range c.Files {
		if i == maxEntityFiles {
			break
		}
		entities = append(entities, fc.Path)
	}

	summaryTopics := topics
	if len(summaryTopics) == 0 {
		summaryTopics = []string{defaultTopic}
	}
	if len(excerpts) > 0 {
		summaryTopics = NormalizeSet(append([]string{promptTopic}, summaryTopics...))
	}
	return f.record(c, LayerSummary, TypeSemantic, lines, summaryTopics, UniqueSorted(entities))
}

func (f Formatter) fileRecord(c capture.CommitRecord, fc capture.FileChange) (Record, bool) {
	if fc.Binary || strings.TrimSpace(fc.Diff) == "" {
		return Record{}, false
	}
	// Deletion-only files keep the code they removed.
	heading := "Code changes:\n"
	snippet := KeyLines(fc.Diff, maxFileSnippetChars)
	if strings.TrimSpace(snippet) == "" {
		heading = "Removed code:\n"
		snippet = RemovedKeyLines(fc.Diff, maxFileSnippetChars)
	}
	if strings.TrimSpace(snippet) == "" {
		return Record{}, false
	}

	tech := TechFromDiff(fc.Diff)
	lines := []string{
		"File: " + fc.Path,
		fmt.Sprintf("Commit: %s (%s)", c.Subject, c.ShortHash()),
	}
	if agents := agentsFor(c.Prompts, fc.PromptIDs); len(agents) > 0 {
		lines = append(lines, "Generated by: "+strings.Join(agents, ", "))
	}
	if len(tech) > 0 {
		lines = append(lines, "Technologies: "+strings.Join(tech, ", "))
	}
	lines = append(lines, heading+snippet)

	topics := TopicsFromPaths([]string{fc.Path})
	if len(topics) == 0 {
		topics = []string{defaultTopic}
	}
	return f.record(c, FileLayer(fc.Path), TypeEpisodic, lines, topics,
		UniqueSorted(append([]string{fc.Path}, tech...))), true
}

func (f Formatter) promptRecord(c capture.CommitRecord, topics []string) (Record, bool) {
	var sections []string
	var entities []string
	affectedSeen := map[string]bool{}
	var affected []string

	for _, p := range c.Prompts {
		body := FormatMessages(p.Messages, maxPromptMessageChars)
		if strings.TrimSpace(body) == "" {
			continue
		}
		agent := p.Agent()
		if agent == "" {
			agent = "unknown"
		}
		part := []string{fmt.Sprintf("Prompt to %s:", agent), body}
		if result := promptResult(p); result != "" {
			part = append(part, "Result: "+result)
		}
		var files []string
		for _, fc := range c.Files {
			if containsString(fc.PromptIDs, p.ID) {
				files = append(files, fc.Path)
				if !affectedSeen[fc.Path] {
					affectedSeen[fc.Path] = true
					affected = append(affected, fc.Path)
				}
			}
		}
		if len(files) > 0 {
			if len(files) > maxAffectedFiles {
				files = files[:maxAffectedFiles]
			}
			part = append(part, "Files affected: "+strings.Join(files, ", "))
		}
		sections = append(sections, strings.Join(part, "\n"))

		author := p.HumanAuthor
		if author == "" {
			author = c.AuthorName
		}
		entities = append(entities, author, agent)
	}
	if len(sections) == 0 {
		return Record{}, false
	}

	lines := []string{promptRecordPrefix}
	lines = append(lines, sections...)
	lines = append(lines, fmt.Sprintf("Commit: %s (%s)", c.Subject, c.ShortHash()))

	if len(affected) > 5 {
		affected = affected[:5]
	}
	promptTopics := topics
	if len(promptTopics) == 0 {
		promptTopics = []string{defaultTopic}
	}
	promptTopics = NormalizeSet(append([]string{promptTopic}, promptTopics...))
	return f.record(c, LayerPrompts, TypeSemantic, lines, promptTopics,
		UniqueSorted(append(entities, affected...))), true
}

func (f Formatter) record(c capture.CommitRecord, layer string, typ MemoryType, lines, topics, entities []string) Record {
	user := f.UserID
	if user == "" {
		user = c.AuthorEmail
	}
	return Record{
		ID:         RecordID(KindCommit, c.Hash, layer),
		Text:       strings.Join(lines, "\n"),
		MemoryType: typ,
		Topics:     topics,
		Entities:   entities,
		Namespace:  f.Namespace,
		UserID:     user,
		SessionID:  SessionID(c.Hash),
		SourceRef:  c.Hash,
		CreatedAt:  c.When.UTC(),
	}
}

// SessionID groups all records derived from one commit.
func SessionID(hash string) string {
	if len(hash) > 12 {
		hash = hash[:12]
	}
	return "git-" + hash
}

// FormatMessages renders prompt turns as "[role]: text" lines within maxChars.
// A message that does not fit is cut and marked with "..." when enough room
// remains to be useful; later messages are dropped.
func FormatMessages(msgs []capture.Message, maxChars int) string {
	var parts []string
	total := 0
	for _, m := range msgs {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		line := fmt.Sprintf("[%s]: %s", m.Role, text)
		if total+len(line) > maxChars {
			remaining := maxChars - total
			if remaining > 50 {
				parts = append(parts, truncate(line, remaining-3)+"...")
			}
			break
		}
		parts = append(parts, line)
		total += len(line) + 1
	}
	return strings.Join(parts, "\n")
}

func formatDate(c capture.CommitRecord) string {
	return c.When.UTC().Format("2006-01-02T15:04:05Z")
}

func agentsOf(prompts []capture.Prompt) []string {
	var agents []string
	for _, p := range prompts {
		if p.Tool != "" {
			agents = append(agents, p.Agent())
		}
	}
	return UniqueSorted(agents)
}

func agentsFor(prompts []capture.Prompt, ids []string) []string {
	var agents []string
	for _, p := range prompts {
		if p.Tool != "" && containsString(ids, p.ID) {
			agents = append(agents, p.Agent())
		}
	}
	return UniqueSorted(agents)
}

// promptExcerpts returns the first user message of each prompt, shortened.
func promptExcerpts(prompts []capture.Prompt) []string {
	var out []string
	for _, p := range prompts {
		for _, m := range p.Messages {
			if m.Role != "user" || strings.TrimSpace(m.Text) == "" {
				continue
			}
			out = append(out, truncate(strings.TrimSpace(m.Text), promptExcerptChars))
			break
		}
		if len(out) == maxPromptExcerpts {
			break
		}
	}
	return out
}

func promptResult(p capture.Prompt) string {
	var parts []string
	if p.TotalAdditions > 0 {
		parts = append(parts, fmt.Sprintf("%d lines added", p.TotalAdditions))
	}
	if p.TotalDeletions > 0 {
		parts = append(parts, fmt.Sprintf("%d lines deleted", p.TotalDeletions))
	}
	if p.AcceptedLines > 0 {
		rate := 0
		if p.TotalAdditions > 0 {
			rate = percent(float64(p.AcceptedLines) / float64(p.TotalAdditions))
		}
		parts = append(parts, fmt.Sprintf("%d accepted (%d%%)", p.AcceptedLines, rate))
	}
	if p.OverriddenLines > 0 {
		parts = append(parts, fmt.Sprintf("%d overridden", p.OverriddenLines))
	}
	return strings.Join(parts, ", ")
}

func sortedToolModels(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func percent(rate float64) int { return int(math.Round(rate * 100)) }

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
