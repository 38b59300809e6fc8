package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devmemory/devmemory/internal/adapter"
	"github.com/devmemory/devmemory/internal/cursor"
	"github.com/devmemory/devmemory/internal/git"
	syncpkg "github.com/devmemory/devmemory/internal/sync"
)

func newSyncCmd() *cobra.Command {
	var (
		latest   bool
		full     bool
		dryRun   bool
		limit    int
		noEnrich bool
		quiet    bool
		ref      string

		allBranches bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Turn new AI-annotated commits into memories",
		Long: `Read git-ai notes for commits since the last sync, format them into memory
records and write them to the store. The cursor only advances past a commit
once its records are stored, so an interrupted sync resumes where it stopped.

--latest syncs only HEAD and is what the post-commit hook runs.
--full ignores the cursor and re-submits every commit; records are keyed by
commit and layer, so this is safe to repeat.
--all-branches runs the sync once per local branch, each with its own cursor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if latest && full {
				return errors.New("--latest and --full are mutually exclusive")
			}
			if allBranches && (latest || ref != "") {
				return errors.New("--all-branches cannot be combined with --latest or --ref")
			}
			e, err := loadEnv(quiet)
			if err != nil {
				return err
			}
			defer e.Close()

			st, err := e.openStore()
			if err != nil {
				return err
			}
			enrich := e.cfg.Sync.Enrich && !noEnrich && !dryRun
			var llm adapter.LLMAdapter
			if enrich {
				llm = e.optionalLLM()
			}
			engine, err := e.syncEngine(st, llm)
			if err != nil {
				return err
			}

			opts := syncpkg.Options{
				Ref:    ref,
				Mode:   syncpkg.ModeIncremental,
				DryRun: dryRun,
				Limit:  limit,
				Enrich: enrich,
			}
			if opts.Limit == 0 {
				opts.Limit = e.cfg.Sync.Limit
			}
			switch {
			case latest:
				opts.Mode = syncpkg.ModeLatest
			case full:
				opts.Mode = syncpkg.ModeFull
				opts.Limit = limit
			}

			refs := []string{opts.Ref}
			switch {
			case allBranches:
				hist, err := git.OpenHistory(e.root)
				if err != nil {
					return err
				}
				if refs, err = hist.Branches(); err != nil {
					return err
				}
			case opts.Ref == "":
				refs[0] = git.CurrentBranch(e.root)
			}

			out := cmd.OutOrStdout()
			if quiet {
				out = io.Discard
			}
			failed := 0
			for _, r := range refs {
				opts.Ref = r
				if len(refs) > 1 {
					fmt.Fprintf(out, "== %s ==\n", r)
				}
				stop := spinner("Syncing commits...", quiet)
				report, err := engine.Run(cmd.Context(), opts)
				stop()

				if errors.Is(err, cursor.ErrLocked) {
					e.log.Info().Str("ref", r).Msg("sync already running; nothing to do")
					continue
				}
				if dryRun {
					printPlan(out, report)
				}
				printReport(out, report, dryRun)
				if err != nil {
					return fmt.Errorf("sync %s: %w", r, err)
				}
				if report.Failed > 0 {
					failed += report.Failed
					e.log.Error().Str("ref", r).Int("failed", report.Failed).
						Str("cursor", report.Cursor.LastHash).Msg("commits failed to sync")
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d commit(s) failed to sync; fix and re-run to resume from the cursor", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&latest, "latest", false, "sync only the newest commit")
	cmd.Flags().BoolVar(&full, "full", false, "ignore the cursor and re-sync every commit")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be stored without writing")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum commits per run (default from config)")
	cmd.Flags().BoolVar(&noEnrich, "no-enrich", false, "skip LLM commit summaries")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output (for hooks)")
	cmd.Flags().StringVar(&ref, "ref", "", "branch or ref to sync (default current branch)")
	cmd.Flags().BoolVar(&allBranches, "all-branches", false, "sync every local branch in turn")

	return cmd
}

func printPlan(w io.Writer, r syncpkg.Report) {
	if len(r.Planned) == 0 {
		fmt.Fprintln(w, "Nothing to sync.")
		return
	}
	for _, p := range r.Planned {
		if p.Skipped {
			fmt.Fprintf(w, "  %.12s  %s  (no AI attribution, skipped)\n", p.Hash, p.Subject)
			continue
		}
		fmt.Fprintf(w, "  %.12s  %s  (%d records)\n", p.Hash, p.Subject, len(p.Records))
		for _, rec := range p.Records {
			fmt.Fprintf(w, "      %-10s %s\n", rec.MemoryType, firstLine(rec.Text))
		}
	}
}

func printReport(w io.Writer, r syncpkg.Report, dryRun bool) {
	if dryRun {
		fmt.Fprintf(w, "Would sync %d commit(s), skip %d (%d records).\n",
			len(r.Planned)-r.Skipped, r.Skipped, r.Records)
	} else {
		fmt.Fprintf(w, "Synced %d commit(s), skipped %d, failed %d (%d records).\n",
			r.Synced, r.Skipped, r.Failed, r.Records)
	}
	if r.NotAttempted > 0 {
		fmt.Fprintf(w, "%d commit(s) not attempted.\n", r.NotAttempted)
	}
	if r.Enriched > 0 || r.EnrichFailed > 0 {
		fmt.Fprintf(w, "Enriched %d commit(s), %d enrichment failure(s).\n", r.Enriched, r.EnrichFailed)
	}
	for _, err := range r.Failures {
		fmt.Fprintln(w, "  error:", err)
	}
	if r.Cursor.LastHash != "" && !dryRun {
		fmt.Fprintf(w, "Cursor at %.12s.\n", r.Cursor.LastHash)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
