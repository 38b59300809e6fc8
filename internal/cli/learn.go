package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/devmemory/devmemory/internal/knowledge"
	"github.com/devmemory/devmemory/internal/store"
)

func newLearnCmd() *cobra.Command {
	var (
		watch  bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "learn [dir]",
		Short: "Load hand-written knowledge files into memory",
		Long: `Parse Markdown files under the knowledge directory (default
.devmemory/knowledge) into memories, one per "## " section. Optional YAML
frontmatter sets topics, entities and the memory type.

Files listed in .devmemory/knowledge/.devmemoryignore are skipped. A file that
fails to parse is reported and the rest are still loaded.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			var dirArg string
			if len(args) == 1 {
				dirArg = args[0]
			}
			dir := e.knowledgeDir(dirArg)
			loader := e.loader()

			var st store.Store
			if !dryRun {
				if st, err = e.openStore(); err != nil {
					return err
				}
			}

			res, err := loader.Load(dir)
			if err != nil {
				return err
			}
			if err := applyKnowledge(cmd.Context(), e, st, res, cmd.OutOrStdout()); err != nil {
				return err
			}
			if !watch {
				if len(res.Errors) > 0 {
					return fmt.Errorf("%d knowledge file(s) could not be parsed", len(res.Errors))
				}
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for changes (Ctrl+C to stop)...\n", dir)
			err = loader.Watch(cmd.Context(), dir, knowledge.DefaultDebounce, func(res knowledge.Result, err error) {
				if err != nil {
					e.log.Error().Err(err).Msg("reload knowledge")
					return
				}
				if err := applyKnowledge(cmd.Context(), e, st, res, cmd.OutOrStdout()); err != nil {
					e.log.Error().Err(err).Msg("store knowledge")
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "reload when knowledge files change")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and report without writing")

	return cmd
}

// applyKnowledge reports a load and, when st is set, upserts its records.
func applyKnowledge(ctx context.Context, e *env, st store.Store, res knowledge.Result, w io.Writer) error {
	for _, f := range res.Files {
		fmt.Fprintf(w, "  %-40s %d memor%s\n", f.Path, f.Records, plural(f.Records, "y", "ies"))
	}
	for _, perr := range res.Errors {
		fmt.Fprintln(os.Stderr, "  skipped:", perr)
	}
	if st == nil || len(res.Records) == 0 {
		fmt.Fprintf(w, "%d memories from %d file(s).\n", len(res.Records), len(res.Files))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Store.Timeout.Duration)
	defer cancel()
	if err := st.Upsert(ctx, res.Records); err != nil {
		return fmt.Errorf("store knowledge: %w", err)
	}
	fmt.Fprintf(w, "Loaded %d memories from %d file(s).\n", len(res.Records), len(res.Files))
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
