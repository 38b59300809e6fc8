package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devmemory/devmemory/internal/git"
)

// hookMarker identifies the devmemory-managed section inside a hook script.
const hookMarker = "# devmemory:managed"

// hookBlock is the managed section. It ends with the "fi" line that
// removeManagedBlock looks for.
const hookBlock = hookMarker + `
# Sync the new commit into project memory.
if command -v devmemory >/dev/null 2>&1; then
  devmemory sync --latest --quiet >/dev/null 2>&1 &
fi
`

// hookScript is written when no post-commit hook exists yet.
const hookScript = "#!/bin/sh\n" + hookBlock

func newHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Manage the post-commit hook that syncs new commits",
		Long: `Install or remove a post-commit git hook that runs
'devmemory sync --latest' in the background after each commit.`,
	}

	cmd.AddCommand(
		newHookInstallCmd(),
		newHookUninstallCmd(),
		newHookStatusCmd(),
	)

	return cmd
}

func newHookInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the post-commit hook",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := findRoot()
			if err != nil {
				return err
			}
			msg, err := installHook(hookPath(root))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newHookUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the post-commit hook",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := findRoot()
			if err != nil {
				return err
			}
			msg, err := uninstallHook(hookPath(root))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newHookStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check if the post-commit hook is installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := findRoot()
			if err != nil {
				return err
			}
			path := hookPath(root)
			data, err := os.ReadFile(path)
			switch {
			case os.IsNotExist(err):
				fmt.Fprintln(cmd.OutOrStdout(), "Not installed.")
			case err != nil:
				return fmt.Errorf("read hook: %w", err)
			case strings.Contains(string(data), hookMarker):
				fmt.Fprintf(cmd.OutOrStdout(), "Installed (%s).\n", path)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "Not installed (post-commit hook exists but has no devmemory section).")
			}
			return nil
		},
	}
}

// hookPath returns the post-commit hook for the repository at root,
// honouring core.hooksPath.
func hookPath(root string) string {
	dir, err := git.Run(context.Background(), root, "rev-parse", "--git-path", "hooks")
	if err != nil || dir == "" {
		dir = filepath.Join(".git", "hooks")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return filepath.Join(dir, "post-commit")
}

func hookInstalled(root string) bool {
	data, err := os.ReadFile(hookPath(root))
	return err == nil && strings.Contains(string(data), hookMarker)
}

// installHook writes a fresh hook or appends the managed block to an
// existing one. Installing twice is a no-op.
func installHook(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create hooks directory: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		content := string(data)
		if strings.Contains(content, hookMarker) {
			return "Hook already installed.", nil
		}
		// Another tool owns this hook; append our block.
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		if err := os.WriteFile(path, []byte(content+"\n"+hookBlock), 0o755); err != nil {
			return "", fmt.Errorf("append to hook: %w", err)
		}
		return "Appended devmemory to existing post-commit hook.", nil
	}

	if err := os.WriteFile(path, []byte(hookScript), 0o755); err != nil {
		return "", fmt.Errorf("write hook: %w", err)
	}
	return "Installed post-commit hook. New commits will sync automatically.", nil
}

// uninstallHook removes the managed block, deleting the file when nothing
// else is left in it.
func uninstallHook(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "No post-commit hook found.", nil
	}
	if err != nil {
		return "", fmt.Errorf("read hook: %w", err)
	}

	content := string(data)
	if !strings.Contains(content, hookMarker) {
		return "No devmemory hook found in post-commit.", nil
	}

	cleaned := strings.TrimSpace(removeManagedBlock(content))
	if cleaned == "" || cleaned == "#!/bin/sh" {
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("remove hook: %w", err)
		}
		return "Removed post-commit hook.", nil
	}

	if err := os.WriteFile(path, []byte(cleaned+"\n"), 0o755); err != nil {
		return "", fmt.Errorf("write hook: %w", err)
	}
	return "Removed devmemory section from post-commit hook (other hooks preserved).", nil
}

// removeManagedBlock strips from the hookMarker line through the "fi" that
// closes our block.
func removeManagedBlock(content string) string {
	lines := strings.Split(content, "\n")
	var result []string
	inBlock := false

	for _, line := range lines {
		if strings.Contains(line, hookMarker) {
			inBlock = true
			continue
		}
		if inBlock {
			if strings.TrimSpace(line) == "fi" {
				inBlock = false
			}
			continue
		}
		result = append(result, line)
	}

	return strings.Join(result, "\n")
}
