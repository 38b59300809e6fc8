package context

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/devmemory/devmemory/internal/git"
	"github.com/devmemory/devmemory/internal/store"
)

const (
	maxAgentContextChars = 4000
	maxListedChanges     = 15
)

var (
	decisionTopics = []string{"architecture", "decisions", "conventions", "dependencies"}
	gotchaTopics   = []string{"gotchas", "troubleshooting", "bugfix", "api-quirks"}
)

// Formatter renders memories into prompt blocks and markdown.
type Formatter struct{}

// NewFormatter creates a Formatter.
func NewFormatter() *Formatter { return &Formatter{} }

// MemoryBlock renders the n-th retrieved memory for an LLM prompt.
func (f *Formatter) MemoryBlock(n int, r store.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- Memory %d (type: %s, score: %.3f", n, r.Record.MemoryType, r.Distance)
	if len(r.Record.Topics) > 0 {
		fmt.Fprintf(&b, ", topics: %s", strings.Join(r.Record.Topics, ", "))
	}
	b.WriteString(") ---\n")
	b.WriteString(strings.TrimSpace(r.Record.Text))
	return b.String()
}

// AgentContext renders the CONTEXT.md file handed to coding agents: the
// working state followed by relevant memories grouped by kind.
func (f *Formatter) AgentContext(ws git.WorkingState, results []store.Result, now time.Time) string {
	branch := ws.Branch
	if branch == "" {
		branch = "unknown"
	}
	changed := ws.ChangedFiles()
	sort.Strings(changed)

	parts := []string{
		"# DevMemory Context",
		fmt.Sprintf("_Auto-generated at %s. Run `devmemory context` to refresh._\n", now.UTC().Format("2006-01-02 15:04 UTC")),
		fmt.Sprintf("## Current Branch: `%s`\n", branch),
	}

	if len(changed) > 0 {
		parts = append(parts, "## Active Changes\n")
		for i, c := range changed {
			if i == maxListedChanges {
				parts = append(parts, fmt.Sprintf("- ... and %d more", len(changed)-maxListedChanges))
				break
			}
			parts = append(parts, fmt.Sprintf("- `%s`", c))
		}
		parts = append(parts, "")
	}

	if len(ws.RecentSubject) > 0 {
		parts = append(parts, "## Recent Commits\n")
		for _, s := range ws.RecentSubject {
			parts = append(parts, "- "+s)
		}
		parts = append(parts, "")
	}

	var decisions, gotchas, other []store.Result
	for _, r := range results {
		switch {
		case hasAny(r, decisionTopics):
			decisions = append(decisions, r)
		case hasAny(r, gotchaTopics):
			gotchas = append(gotchas, r)
		default:
			other = append(other, r)
		}
	}

	used := 0
	for _, p := range parts {
		used += len(p)
	}
	section := func(title string, items []store.Result) {
		if len(items) == 0 || used >= maxAgentContextChars {
			return
		}
		parts = append(parts, title+"\n")
		for _, r := range items {
			summary := excerpt(r.Record.Text, 200)
			lines := strings.Split(summary, "\n")
			parts = append(parts, fmt.Sprintf("- **%s**", lines[0]))
			for _, l := range lines[1:] {
				if l = strings.TrimSpace(l); l != "" {
					parts = append(parts, "  "+l)
				}
			}
			used += len(summary)
			if used > maxAgentContextChars {
				break
			}
		}
		parts = append(parts, "")
	}
	section("## Relevant Architecture Decisions", decisions)
	section("## Known Gotchas for This Area", gotchas)

	if len(other) > 0 && used < maxAgentContextChars {
		parts = append(parts, "## Other Relevant Context\n")
		for _, r := range other {
			first := strings.SplitN(excerpt(r.Record.Text, 150), "\n", 2)[0]
			parts = append(parts, fmt.Sprintf("- [%s] %s", r.Record.MemoryType, first))
			used += len(first)
			if used > maxAgentContextChars {
				break
			}
		}
		parts = append(parts, "")
	}

	if len(results) == 0 {
		parts = append(parts,
			"## No Relevant Memories Found\n",
			"No memories matched the current work area above the relevance threshold.",
			"Use `devmemory search \"<query>\"` for broader searches.",
			"",
		)
	}

	parts = append(parts,
		"---",
		fmt.Sprintf("_Searched %d relevant memories across %d changed files._", len(results), len(changed)),
		"_For deeper context, use `devmemory search \"<specific question>\"` or the `search` MCP tool._",
	)
	return strings.Join(parts, "\n") + "\n"
}

// excerpt keeps whole lines of text up to maxLen characters. An overlong
// first line is cut and suffixed with "...".
func excerpt(text string, maxLen int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	first := lines[0]
	if len(first) > maxLen {
		return first[:maxLen] + "..."
	}
	out := first
	for _, l := range lines[1:] {
		if len(out)+len(l)+1 > maxLen {
			break
		}
		out += "\n" + l
	}
	return out
}

func hasAny(r store.Result, topics []string) bool {
	for _, t := range topics {
		if r.Record.HasTopic(t) {
			return true
		}
	}
	return false
}
