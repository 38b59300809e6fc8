package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/devmemory/devmemory/internal/config"
	"github.com/devmemory/devmemory/internal/git"
	"github.com/devmemory/devmemory/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store health, memory count and sync progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			text, err := statusReport(cmd.Context(), e)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

// statusReport gathers everything `status` prints. Only config and cursor
// errors fail it; an unreachable store is part of the report.
func statusReport(ctx context.Context, e *env) (string, error) {
	out := &strings.Builder{}
	ref := git.CurrentBranch(e.root)

	fmt.Fprintf(out, "\nRepository: %s (%s)\n", e.root, ref)

	switch e.cfg.Store.Backend {
	case config.BackendLocal:
		path := config.LocalDBPath(e.root)
		var size int64
		if fi, err := os.Stat(path); err == nil {
			size = fi.Size()
		}
		fmt.Fprintf(out, "Store:      local %s (%s)\n", path, formatBytes(size))
	default:
		fmt.Fprintf(out, "Store:      %s %s\n", e.cfg.Store.Backend, e.cfg.Store.Endpoint)
	}
	fmt.Fprintf(out, "Namespace:  %s\n", e.cfg.Store.Namespace)

	st, err := e.openStore()
	if err != nil {
		fmt.Fprintf(out, "Health:     unavailable (%v)\n", err)
	} else {
		sctx, cancel := context.WithTimeout(ctx, e.cfg.Store.Timeout.Duration)
		defer cancel()
		if err := st.Health(sctx); err != nil {
			fmt.Fprintf(out, "Health:     unreachable (%v)\n", err)
		} else {
			fmt.Fprintln(out, "Health:     ok")
			if c, ok := st.(store.Counter); ok {
				if n, err := c.Count(sctx, e.cfg.Store.Namespace); err == nil {
					fmt.Fprintf(out, "Memories:   %d\n", n)
				}
			}
			if lr, ok := st.(*store.LocalStore); ok {
				if run, found, err := lr.LastRun(sctx); err == nil && found {
					fmt.Fprintf(out, "Last run:   %s %s on %s: %d synced, %d skipped, %d failed\n",
						run.StartedAt.Local().Format("2006-01-02 15:04"), run.Mode, run.Ref,
						run.Synced, run.Skipped, run.Failed)
				}
			}
		}
	}

	cur, err := e.cursorStore(nil)
	if err != nil {
		return "", err
	}
	state, err := cur.Read(e.root, ref)
	if err != nil {
		return "", err
	}
	if state.IsZero() {
		fmt.Fprintln(out, "Cursor:     never synced")
	} else {
		fmt.Fprintf(out, "Cursor:     %.12s (%d commits, last %s ago)\n",
			state.LastHash, state.TotalSynced, time.Since(state.SyncedAt).Round(time.Second))
	}
	if pid := cur.LockHolder(e.root, ref); pid != 0 {
		fmt.Fprintf(out, "Sync:       running (pid %d)\n", pid)
	}

	if hookInstalled(e.root) {
		fmt.Fprintln(out, "Hook:       installed")
	} else {
		fmt.Fprintln(out, "Hook:       not installed (run `devmemory hook install`)")
	}

	fmt.Fprintf(out, "Knowledge:  %d file(s) in %s\n", countKnowledgeFiles(e.knowledgeDir("")), e.cfg.Knowledge.Dir)
	fmt.Fprintln(out)
	return out.String(), nil
}

func countKnowledgeFiles(dir string) int {
	n := 0
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".md") {
			n++
		}
		return nil
	})
	return n
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
