package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	ctxpkg "github.com/devmemory/devmemory/internal/context"
	"github.com/devmemory/devmemory/internal/git"
	"github.com/devmemory/devmemory/internal/memory"
	"github.com/devmemory/devmemory/internal/search"
	"github.com/devmemory/devmemory/internal/store"
)

const (
	contextPerQuery  = 5
	contextThreshold = 0.65
	contextRecent    = 5
)

// retriever is the part of search.Searcher the context command uses.
type retriever interface {
	Retrieve(ctx context.Context, q search.Query) ([]store.Result, int, error)
}

func newContextCmd() *cobra.Command {
	var (
		output string
		stdout bool
		quiet  bool
	)

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Write a CONTEXT.md briefing for coding agents",
		Long: `Build a briefing from the current branch, uncommitted changes and recent
commits, then pull related decisions and gotchas from memory. The result is
written to .devmemory/CONTEXT.md so agents can read it at session start.

When the store is unreachable the briefing still lists the git state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(quiet)
			if err != nil {
				return err
			}
			defer e.Close()

			ws := git.CaptureWorkingState(e.root, contextRecent)

			var r retriever
			if st, err := e.openStore(); err != nil {
				e.log.Warn().Err(err).Msg("store unavailable; writing git state only")
			} else {
				r = e.searcher(st, nil)
			}
			text := agentContext(cmd.Context(), r, ws, time.Now(), e.log.Logger)

			if stdout {
				fmt.Fprint(cmd.OutOrStdout(), text)
				return nil
			}
			path := output
			if path == "" {
				path = filepath.Join(".devmemory", "CONTEXT.md")
			}
			if !filepath.IsAbs(path) {
				path = filepath.Join(e.root, path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
			}
			if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
				return fmt.Errorf("write context: %w", err)
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default .devmemory/CONTEXT.md)")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print instead of writing a file")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress output")

	return cmd
}

// agentContext runs one semantic query per working-state signal, merges the
// hits by id and renders the briefing. A nil retriever or a store error
// yields a briefing with git state only.
func agentContext(ctx context.Context, r retriever, ws git.WorkingState, now time.Time, log zerolog.Logger) string {
	var results []store.Result
	if r != nil {
		seen := map[string]bool{}
		for _, q := range ctxpkg.Queries(ws) {
			hits, _, err := r.Retrieve(ctx, search.Query{
				Text:       q,
				Limit:      contextPerQuery,
				Threshold:  contextThreshold,
				MemoryType: memory.TypeSemantic,
			})
			if err != nil {
				log.Warn().Err(err).Str("query", q).Msg("context search failed; continuing with git state")
				results = nil
				break
			}
			for _, h := range hits {
				if seen[h.Record.ID] {
					continue
				}
				seen[h.Record.ID] = true
				results = append(results, h)
			}
		}
	}
	return ctxpkg.NewFormatter().AgentContext(ws, results, now)
}
