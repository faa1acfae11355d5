package mcp

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/dshills/docindex-mcp/internal/orchestrator"
	"github.com/dshills/docindex-mcp/internal/searcher"
	"github.com/dshills/docindex-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "docindex-mcp"
)

// Orchestrator is the folder management surface exposed as tools
type Orchestrator interface {
	AddFolder(ctx context.Context, path, model string) (types.FolderState, error)
	RemoveFolder(ctx context.Context, path string) error
	PauseFolder(ctx context.Context, path string) (types.FolderState, error)
	ResumeFolder(ctx context.Context, path string) (types.FolderState, error)
	ChangeModel(ctx context.Context, path, model string) (types.FolderState, error)
	Folders() []types.FolderState
	Stats() orchestrator.Stats
}

// Searcher runs search_documents queries
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	orch     Orchestrator
	searcher Searcher
	logger   zerolog.Logger
}

// NewServer creates an MCP server exposing folder management and search
func NewServer(orch Orchestrator, srch Searcher, version string, logger zerolog.Logger) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		orch:     orch,
		searcher: srch,
		logger:   logger.With().Str("component", "mcp").Logger(),
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol over the given streams until ctx is done or
// the client disconnects.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	s.logger.Info().Msg("MCP server listening on stdio")
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	// Folder management
	s.mcp.AddTool(addFolderTool(), s.handleAddFolder)
	s.mcp.AddTool(removeFolderTool(), s.handleRemoveFolder)
	s.mcp.AddTool(pauseFolderTool(), s.handlePauseFolder)
	s.mcp.AddTool(resumeFolderTool(), s.handleResumeFolder)
	s.mcp.AddTool(setFolderModelTool(), s.handleSetFolderModel)

	// Status
	s.mcp.AddTool(listFoldersTool(), s.handleListFolders)
	s.mcp.AddTool(getStatsTool(), s.handleGetStats)

	s.mcp.AddTool(searchDocumentsTool(), s.handleSearchDocuments)
}
