package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devmemory/devmemory/internal/memory"
	"github.com/devmemory/devmemory/internal/search"
)

func newSearchCmd() *cobra.Command {
	var (
		topics    []string
		limit     int
		raw       bool
		threshold float64
		memType   string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "search <question>",
		Short: "Ask project memory a question",
		Long: `Search stored memories and synthesize an answer that cites its sources.

Examples:
  devmemory search "why do we retry uploads?"
  devmemory search "recent changes to auth" --topic auth
  devmemory search "session handling" --raw`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if memType != "" && !memory.ValidMemoryType(memory.MemoryType(memType)) {
				return fmt.Errorf("unknown memory type %q", memType)
			}
			e, err := loadEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

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

			stop := spinner("Searching...", asJSON)
			ans, err := s.Search(cmd.Context(), search.Query{
				Text:       strings.Join(args, " "),
				Topics:     topics,
				MemoryType: memory.MemoryType(memType),
				Limit:      limit,
				Raw:        raw,
				Threshold:  threshold,
			})
			stop()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ans)
			}
			if ans.Degraded && ans.SynthesisErr != nil {
				e.log.Warn().Err(ans.SynthesisErr).Msg("showing raw results")
			}
			fmt.Fprintln(cmd.OutOrStdout(), search.Render(ans))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&topics, "topic", "t", nil, "only memories with one of these topics")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum memories to use (default from config)")
	cmd.Flags().BoolVar(&raw, "raw", false, "list memories without synthesizing an answer")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "maximum distance to keep (default from config)")
	cmd.Flags().StringVar(&memType, "type", "", "only semantic or episodic memories")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the answer as JSON")

	return cmd
}
