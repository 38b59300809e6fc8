// Package cli defines the Cobra command tree for the devmemory CLI.
package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// version, commit, date are set via -ldflags at build time.
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "devmemory",
		Short: "Long-term project memory built from AI-annotated commits",
		Long: `devmemory turns the prompts and attributions git-ai records on each commit
into searchable memories, alongside hand-written knowledge files, and serves
them back to you and your coding agents.

Typical setup:
  devmemory hook install    # sync every new commit
  devmemory sync            # backfill history
  devmemory learn           # load .devmemory/knowledge
  devmemory search "why do we retry uploads?"
  devmemory why internal/upload/client.go`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newSyncCmd(),
		newLearnCmd(),
		newSearchCmd(),
		newWhyCmd(),
		newAddCmd(),
		newContextCmd(),
		newForgetCmd(),
		newStatusCmd(),
		newHookCmd(),
		newMCPCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, v, c, d string) int {
	version, commit, date = v, c, d
	if err := fang.Execute(ctx, NewRootCmd(), fang.WithVersion(v), fang.WithCommit(c)); err != nil {
		return 1
	}
	return 0
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "devmemory %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
