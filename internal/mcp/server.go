// Package mcp exposes devmemory to coding agents as a stdio MCP server.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/devmemory/devmemory/internal/knowledge"
	"github.com/devmemory/devmemory/internal/search"
	syncpkg "github.com/devmemory/devmemory/internal/sync"
)

// Searcher answers questions from the memory store.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (search.Answer, error)
}

// Deps are the operations the tools call into. Nil functions disable the
// corresponding tool.
type Deps struct {
	Searcher Searcher
	Sync     func(ctx context.Context) (syncpkg.Report, error)
	Learn    func(ctx context.Context) (knowledge.Result, error)
	Status   func(ctx context.Context) (string, error)
}

// Server is the devmemory MCP server.
type Server struct {
	deps Deps
	mcp  *server.MCPServer
}

// New creates a Server and registers its tools.
func New(version string, deps Deps) *Server {
	s := &Server{
		deps: deps,
		mcp: server.NewMCPServer(
			"devmemory",
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
			server.WithInstructions(instructions),
		),
	}
	s.registerTools()
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio serves requests on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

const instructions = `devmemory is this repository's long-term memory, built from AI-annotated
commits and hand-written knowledge files. Call search before making changes in an
unfamiliar area, and sync_latest after committing.`

func (s *Server) registerTools() {
	if s.deps.Searcher != nil {
		s.mcp.AddTool(mcp.NewTool("search",
			mcp.WithDescription("Search project memory and get an answer with cited sources."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Question or keywords")),
			mcp.WithString("topic", mcp.Description("Only return memories with this topic")),
			mcp.WithNumber("limit", mcp.Description("Maximum memories to use (default 10)")),
			mcp.WithBoolean("raw", mcp.Description("Return raw memories without a synthesized answer")),
		), s.handleSearch)
	}
	if s.deps.Status != nil {
		s.mcp.AddTool(mcp.NewTool("status",
			mcp.WithDescription("Report store health, memory count and sync state."),
		), s.handleStatus)
	}
	if s.deps.Sync != nil {
		s.mcp.AddTool(mcp.NewTool("sync_latest",
			mcp.WithDescription("Sync the newest commit into project memory."),
		), s.handleSyncLatest)
	}
	if s.deps.Learn != nil {
		s.mcp.AddTool(mcp.NewTool("learn",
			mcp.WithDescription("Reload knowledge files from .devmemory/knowledge into memory."),
		), s.handleLearn)
	}
}
