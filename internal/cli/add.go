package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/devmemory/devmemory/internal/memory"
)

func newAddCmd() *cobra.Command {
	var (
		memType  string
		topics   []string
		entities []string
	)

	cmd := &cobra.Command{
		Use:   "add [text...]",
		Short: "Store a memory by hand",
		Long: `Store a decision, gotcha or convention that no commit captures.
Without arguments the text is read from stdin, one line per prompt on a
terminal and until EOF otherwise.

Examples:
  devmemory add "We pin the S3 SDK because v2 breaks multipart retries" --topic uploads
  devmemory add --type episodic "Load test on 2026-05-01 hit 503s at 400 rps"
  git log -1 --format=%B | devmemory add`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" {
				var err error
				if text, err = readMemoryText(cmd.InOrStdin(), cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			if strings.TrimSpace(text) == "" {
				return memory.ErrEmptyMemory
			}

			e, err := loadEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			rec, err := e.formatter().Manual(text, memory.MemoryType(memType), topics, entities, time.Now())
			if err != nil {
				return err
			}
			st, err := e.openStore()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), e.cfg.Store.Timeout.Duration)
			defer cancel()
			if err := st.Health(ctx); err != nil {
				return fmt.Errorf("memory store unreachable: %w", err)
			}
			if err := st.Upsert(ctx, []memory.Record{rec}); err != nil {
				return fmt.Errorf("store memory: %w", err)
			}
			e.log.Debug().Str("id", rec.ID).Strs("topics", rec.Topics).Msg("stored manual memory")
			fmt.Fprintf(cmd.OutOrStdout(), "Stored [%s] %s (id: %s)\n", rec.MemoryType, firstLine(rec.Text), rec.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&memType, "type", "t", string(memory.TypeSemantic), "semantic or episodic")
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "topics to tag the memory with")
	cmd.Flags().StringSliceVar(&entities, "entity", nil, "entities the memory mentions")

	return cmd
}

// readMemoryText prompts for one line on a terminal and reads all of in
// otherwise.
func readMemoryText(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Memory: ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read memory: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read memory: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
