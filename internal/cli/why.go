package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devmemory/devmemory/internal/git"
	"github.com/devmemory/devmemory/internal/search"
)

func newWhyCmd() *cobra.Command {
	var (
		limit   int
		raw     bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "why <file> [symbol]",
		Short: "Explain why a file or function exists",
		Long: `Combine a file's git history and blame with the memories that mention it
into a short explanation of why the code exists and how it evolved.

Examples:
  devmemory why internal/upload/client.go
  devmemory why internal/upload/client.go Upload
  devmemory why main.go --raw`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			rel, err := repoPath(e.root, args[0])
			if err != nil {
				return err
			}
			hist, err := git.OpenHistory(e.root)
			if err != nil {
				return err
			}
			ok, err := hist.HasFile(rel)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: %w", rel, git.ErrFileNotFound)
			}

			st, err := e.openStore()
			if err != nil {
				return err
			}
			var s *search.Searcher
			if raw {
				s = e.searcher(st, nil)
			} else {
				s = e.searcher(st, e.optionalLLM())
			}

			q := search.WhyQuery{Path: rel, Limit: limit, Raw: raw, Verbose: verbose}
			if len(args) == 2 {
				q.Symbol = args[1]
			}
			stop := spinner("Digging through history...", false)
			ans, err := s.Why(cmd.Context(), q, hist)
			stop()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), search.RenderWhy(ans, verbose))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", search.DefaultWhyLimit, "maximum memories to use")
	cmd.Flags().BoolVar(&raw, "raw", false, "show history and memories without synthesizing")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "longer explanation with sources")

	return cmd
}

// repoPath turns a path given on the command line into one relative to root
// with forward slashes.
func repoPath(root, p string) (string, error) {
	if !filepath.IsAbs(p) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		p = filepath.Join(cwd, p)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New(p + " is outside the repository")
	}
	return filepath.ToSlash(rel), nil
}
