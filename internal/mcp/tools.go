package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/devmemory/devmemory/internal/cursor"
	"github.com/devmemory/devmemory/internal/search"
)

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	q := search.Query{
		Text:  query,
		Limit: req.GetInt("limit", 0),
		Raw:   req.GetBool("raw", false),
	}
	if topic := req.GetString("topic", ""); topic != "" {
		q.Topics = []string{topic}
	}

	ans, err := s.deps.Searcher.Search(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return mcp.NewToolResultText(search.Render(ans)), nil
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := s.deps.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleSyncLatest(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.deps.Sync(ctx)
	if errors.Is(err, cursor.ErrLocked) {
		return mcp.NewToolResultText("A sync is already running; nothing to do."), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sync failed: %v", err)), nil
	}
	text := fmt.Sprintf("Synced %d, skipped %d, failed %d (%d records).", report.Synced, report.Skipped, report.Failed, report.Records)
	if report.Cursor.LastHash != "" {
		text += fmt.Sprintf(" Cursor at %.12s.", report.Cursor.LastHash)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleLearn(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.deps.Learn(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("learn failed: %v", err)), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Loaded %d memories from %d file(s).\n", len(res.Records), len(res.Files))
	for _, perr := range res.Errors {
		fmt.Fprintf(&sb, "- %v\n", perr)
	}
	return mcp.NewToolResultText(sb.String()), nil
}
