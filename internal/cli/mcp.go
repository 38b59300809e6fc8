package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devmemory/devmemory/internal/git"
	"github.com/devmemory/devmemory/internal/knowledge"
	"github.com/devmemory/devmemory/internal/mcp"
	syncpkg "github.com/devmemory/devmemory/internal/sync"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve project memory to coding agents over MCP (stdio)",
		Long: `Run a Model Context Protocol server on stdin/stdout exposing the search,
status, sync_latest and learn tools. Register it with your agent, e.g.

  {"mcpServers": {"devmemory": {"command": "devmemory", "args": ["mcp"]}}}

Console logging is disabled because stdout carries the protocol; set
log.file in the config to keep logs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(true)
			if err != nil {
				return err
			}
			defer e.Close()

			st, err := e.openStore()
			if err != nil {
				return err
			}
			llm := e.optionalLLM()

			deps := mcp.Deps{
				Searcher: e.searcher(st, llm),
				Status: func(ctx context.Context) (string, error) {
					return statusReport(ctx, e)
				},
				Learn: func(ctx context.Context) (knowledge.Result, error) {
					res, err := e.loader().Load(e.knowledgeDir(""))
					if err != nil {
						return res, err
					}
					if len(res.Records) == 0 {
						return res, nil
					}
					sctx, cancel := context.WithTimeout(ctx, e.cfg.Store.Timeout.Duration)
					defer cancel()
					if err := st.Upsert(sctx, res.Records); err != nil {
						return res, fmt.Errorf("store knowledge: %w", err)
					}
					return res, nil
				},
			}

			enrichLLM := llm
			if !e.cfg.Sync.Enrich {
				enrichLLM = nil
			}
			if engine, err := e.syncEngine(st, enrichLLM); err != nil {
				e.log.Warn().Err(err).Msg("sync_latest disabled")
			} else {
				deps.Sync = func(ctx context.Context) (syncpkg.Report, error) {
					return engine.Run(ctx, syncpkg.Options{
						Ref:    git.CurrentBranch(e.root),
						Mode:   syncpkg.ModeLatest,
						Enrich: e.cfg.Sync.Enrich,
					})
				}
			}

			e.log.Info().Str("root", e.root).Msg("serving MCP on stdio")
			return mcp.New(version, deps).ServeStdio()
		},
	}
}
