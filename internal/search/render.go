package search

import (
	"fmt"
	"strings"
)

// Render formats an answer as plain markdown: the synthesized text, or the
// raw memories when there is none, followed by the sources.
func Render(a Answer) string {
	if a.NoResult {
		return NoResultText + "\n"
	}
	var b strings.Builder
	if a.Text != "" {
		b.WriteString(a.Text)
		b.WriteString("\n")
	} else {
		if a.Degraded && a.SynthesisErr != nil {
			fmt.Fprintf(&b, "_Answer synthesis unavailable (%v); showing raw results._\n", a.SynthesisErr)
		}
		for i, r := range a.Results {
			fmt.Fprintf(&b, "\n### [%d] %s (%s, score %.3f)\n\n%s\n", i+1, firstLine(r.Record.Text), r.Record.MemoryType, r.Distance, strings.TrimSpace(r.Record.Text))
		}
	}

	header := fmt.Sprintf("\nSources (%d relevant", len(a.Citations))
	if a.Filtered > 0 {
		header += fmt.Sprintf(", %d filtered out", a.Filtered)
	}
	b.WriteString(header + ")\n")
	for _, c := range a.Citations {
		fmt.Fprintf(&b, "  [%d] %.3f  %s  (id: %s)\n", c.N, c.Distance, c.Source, c.ID)
	}
	return b.String()
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if len(line) > 80 {
		line = line[:77] + "..."
	}
	return line
}

// RenderWhy formats a why answer. Raw and degraded answers show the git
// history and the memories; sources are listed for raw output or when
// verbose is set.
func RenderWhy(a WhyAnswer, verbose bool) string {
	target := a.Path
	if a.Symbol != "" {
		target += " -> " + a.Symbol
	}
	if a.NoResult {
		return fmt.Sprintf("No memories or git history found for %s.\nThe file may not have been synced yet; try: devmemory sync --full\n", target)
	}

	var b strings.Builder
	if a.StoreErr != nil {
		fmt.Fprintf(&b, "_Memory search failed (%v); using git history only._\n\n", a.StoreErr)
	}
	if a.Text != "" {
		fmt.Fprintf(&b, "## Why %s\n\n%s\n", target, a.Text)
		if !verbose {
			return b.String()
		}
	} else {
		if a.Degraded && a.SynthesisErr != nil {
			fmt.Fprintf(&b, "_Explanation unavailable (%v); showing raw history._\n\n", a.SynthesisErr)
		}
		if a.GitContext != "" {
			fmt.Fprintf(&b, "## Git history: %s\n\n%s\n", target, a.GitContext)
		}
		for i, r := range a.Results {
			fmt.Fprintf(&b, "\n### [%d] %s (%s, score %.3f)\n\n%s\n", i+1, firstLine(r.Record.Text), r.Record.MemoryType, r.Distance, strings.TrimSpace(r.Record.Text))
		}
	}
	if len(a.Citations) > 0 {
		fmt.Fprintf(&b, "\nSources (%d memories used)\n", len(a.Citations))
		for _, c := range a.Citations {
			fmt.Fprintf(&b, "  [%d] %.3f  %s  (id: %s)\n", c.N, c.Distance, c.Source, c.ID)
		}
	}
	return b.String()
}
