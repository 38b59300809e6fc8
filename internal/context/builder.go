package context

import (
	"strings"

	"github.com/devmemory/devmemory/internal/git"
	"github.com/devmemory/devmemory/internal/store"
)

// minUsefulTokens is the smallest remainder worth filling with a cut block.
const minUsefulTokens = 64

// Built is a rendered prompt context.
type Built struct {
	Text    string
	Used    []store.Result // in the order rendered; citation n is Used[n-1]
	Tokens  int
	Dropped int
}

// Builder assembles token-budgeted prompt context from search results.
type Builder struct {
	formatter *Formatter
	tokenizer *Tokenizer
}

// NewBuilder creates a Builder.
func NewBuilder(formatter *Formatter, tokenizer *Tokenizer) *Builder {
	return &Builder{formatter: formatter, tokenizer: tokenizer}
}

// Build renders results in order until maxTokens is reached. The block that
// crosses the budget is cut to fit when enough room remains; the rest are
// dropped.
func (b *Builder) Build(results []store.Result, maxTokens int) Built {
	if maxTokens <= 0 {
		maxTokens = 6000
	}
	var out Built
	var blocks []string
	remaining := maxTokens

	for i, r := range results {
		block := b.formatter.MemoryBlock(len(out.Used)+1, r)
		n := b.tokenizer.Count(block) + 2
		if n > remaining {
			if remaining >= minUsefulTokens {
				block = b.tokenizer.Truncate(block, remaining-2)
				blocks = append(blocks, block)
				out.Used = append(out.Used, r)
				out.Tokens += b.tokenizer.Count(block) + 2
				i++
			}
			out.Dropped = len(results) - i
			break
		}
		blocks = append(blocks, block)
		out.Used = append(out.Used, r)
		out.Tokens += n
		remaining -= n
	}
	out.Text = strings.Join(blocks, "\n\n")
	return out
}

// Queries derives search queries from working-tree signals: the branch name,
// the directories and files being changed, and recent commit subjects.
func Queries(ws git.WorkingState) []string {
	var queries []string

	switch ws.Branch {
	case "", "main", "master", "HEAD", "unknown":
	default:
		queries = append(queries, strings.NewReplacer("/", " ", "-", " ", "_", " ").Replace(ws.Branch))
	}

	changed := ws.ChangedFiles()
	if len(changed) > 0 {
		dirSet := map[string]bool{}
		var dirs []string
		for i, f := range changed {
			if i == 10 {
				break
			}
			if idx := strings.LastIndex(f, "/"); idx > 0 {
				parent := f[:idx]
				if j := strings.LastIndex(parent, "/"); j >= 0 {
					parent = parent[j+1:]
				}
				if !dirSet[parent] {
					dirSet[parent] = true
					dirs = append(dirs, parent)
				}
			}
		}
		if len(dirs) > 0 {
			if len(dirs) > 5 {
				dirs = dirs[:5]
			}
			queries = append(queries, "known issues and patterns in "+strings.Join(dirs, " "))
		}
		files := changed
		if len(files) > 5 {
			files = files[:5]
		}
		queries = append(queries, "architecture decisions for "+strings.Join(files, " "))
	}

	if len(ws.RecentSubject) > 0 {
		subjects := ws.RecentSubject
		if len(subjects) > 3 {
			subjects = subjects[:3]
		}
		queries = append(queries, "context for recent work: "+strings.Join(subjects, "; "))
	}

	if len(queries) == 0 {
		queries = append(queries, "project architecture and conventions")
	}
	if len(queries) > 5 {
		queries = queries[:5]
	}
	return queries
}
