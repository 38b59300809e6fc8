package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/devmemory/devmemory/internal/git"
	"github.com/devmemory/devmemory/internal/memory"
)

func newForgetCmd() *cobra.Command {
	var (
		commitRev   string
		resetCursor bool
		yes         bool
	)

	cmd := &cobra.Command{
		Use:   "forget [id...]",
		Short: "Delete memories or reset the sync cursor",
		Long: `Delete memories by id, or every memory derived from one commit.

Examples:
  devmemory forget 3f2a9c0e1b7d44a1c2e8f905
  devmemory forget --commit HEAD~2
  devmemory forget --reset-cursor   # next sync starts from the first commit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && commitRev == "" && !resetCursor {
				return errors.New("give memory ids, --commit or --reset-cursor")
			}
			e, err := loadEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()
			out := cmd.OutOrStdout()

			ids := append([]string(nil), args...)
			if commitRev != "" {
				hist, err := git.OpenHistory(e.root)
				if err != nil {
					return err
				}
				commitIDs, err := commitRecordIDs(hist, commitRev)
				if err != nil {
					return err
				}
				ids = append(ids, commitIDs...)
			}

			if len(ids) > 0 {
				if !yes && !confirmPrompt(fmt.Sprintf("Delete %d memor%s?", len(ids), plural(len(ids), "y", "ies"))) {
					fmt.Fprintln(out, "Aborted.")
					return nil
				}
				st, err := e.openStore()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), e.cfg.Store.Timeout.Duration)
				defer cancel()
				if err := st.Delete(ctx, ids); err != nil {
					return fmt.Errorf("delete memories: %w", err)
				}
				fmt.Fprintf(out, "Deleted %d memor%s.\n", len(ids), plural(len(ids), "y", "ies"))
			}

			if resetCursor {
				cur, err := e.cursorStore(nil)
				if err != nil {
					return err
				}
				ref := git.CurrentBranch(e.root)
				if err := cur.Reset(e.root, ref); err != nil {
					return err
				}
				fmt.Fprintf(out, "Reset sync cursor for %s.\n", ref)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&commitRev, "commit", "", "delete every memory derived from this commit")
	cmd.Flags().BoolVar(&resetCursor, "reset-cursor", false, "forget sync progress for the current branch")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

// commitRecordIDs lists the ids every layer of a commit could have been
// stored under. Ids that were never written are no-ops for Delete.
func commitRecordIDs(hist *git.History, rev string) ([]string, error) {
	hash, err := hist.Resolve(rev)
	if err != nil {
		return nil, err
	}
	ids := []string{
		memory.RecordID(memory.KindCommit, hash, memory.LayerSummary),
		memory.RecordID(memory.KindCommit, hash, memory.LayerPrompts),
		memory.RecordID(memory.KindCommit, hash, memory.LayerEnrichment),
		memory.RecordID(memory.KindCommit, hash, memory.LayerHuman),
	}
	files, _, err := hist.Files(hash)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		ids = append(ids, memory.RecordID(memory.KindCommit, hash, memory.FileLayer(f.Path)))
	}
	return ids, nil
}

// confirmPrompt asks on an interactive stdin and assumes yes otherwise.
func confirmPrompt(prompt string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes"
}
