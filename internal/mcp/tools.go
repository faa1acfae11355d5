package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/docindex-mcp/internal/orchestrator"
	"github.com/dshills/docindex-mcp/internal/searcher"
	"github.com/dshills/docindex-mcp/internal/storage"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeEmptyQuery    = -32004 // Query parameter is empty
)

// handleAddFolder handles the add_folder tool invocation
func (s *Server) handleAddFolder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := requirePath(request)
	if err != nil {
		return nil, err
	}
	model := request.GetString("model", "")

	state, err := s.orch.AddFolder(ctx, path, model)
	if errors.Is(err, orchestrator.ErrSystemBusy) {
		// Added; the scan is queued by the retry sweep
		return jsonResult(map[string]interface{}{
			"added":   true,
			"folder":  state,
			"message": "Folder added. The system is busy, indexing will start shortly.",
		})
	}
	if err != nil {
		return s.toolError("add_folder", err)
	}
	return jsonResult(map[string]interface{}{
		"added":  true,
		"folder": state,
	})
}

// handleRemoveFolder handles the remove_folder tool invocation
func (s *Server) handleRemoveFolder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := requirePath(request)
	if err != nil {
		return nil, err
	}
	if err := s.orch.RemoveFolder(ctx, path); err != nil {
		return s.toolError("remove_folder", err)
	}
	return jsonResult(map[string]interface{}{
		"removed": true,
		"path":    path,
	})
}

// handlePauseFolder handles the pause_folder tool invocation
func (s *Server) handlePauseFolder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := requirePath(request)
	if err != nil {
		return nil, err
	}
	state, err := s.orch.PauseFolder(ctx, path)
	if err != nil {
		return s.toolError("pause_folder", err)
	}
	return jsonResult(map[string]interface{}{"folder": state})
}

// handleResumeFolder handles the resume_folder tool invocation
func (s *Server) handleResumeFolder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := requirePath(request)
	if err != nil {
		return nil, err
	}
	state, err := s.orch.ResumeFolder(ctx, path)
	if errors.Is(err, orchestrator.ErrSystemBusy) {
		return jsonResult(map[string]interface{}{
			"folder":  state,
			"message": "Folder resumed. The system is busy, indexing will start shortly.",
		})
	}
	if err != nil {
		return s.toolError("resume_folder", err)
	}
	return jsonResult(map[string]interface{}{"folder": state})
}

// handleSetFolderModel handles the set_folder_model tool invocation
func (s *Server) handleSetFolderModel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := requirePath(request)
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(request.GetString("model", ""))
	if model == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "model parameter is required", map[string]interface{}{
			"param":  "model",
			"reason": "missing or empty",
		})
	}

	state, err := s.orch.ChangeModel(ctx, path, model)
	if err != nil && !errors.Is(err, orchestrator.ErrSystemBusy) {
		return s.toolError("set_folder_model", err)
	}
	return jsonResult(map[string]interface{}{"folder": state})
}

// handleListFolders handles the list_folders tool invocation
func (s *Server) handleListFolders(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folders := s.orch.Folders()
	return jsonResult(map[string]interface{}{
		"folders": folders,
		"count":   len(folders),
	})
}

// handleGetStats handles the get_stats tool invocation
func (s *Server) handleGetStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.orch.Stats())
}

// handleSearchDocuments handles the search_documents tool invocation
func (s *Server) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(request.GetString("query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := request.GetInt("limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode := searcher.SearchMode(request.GetString("search_mode", string(searcher.SearchModeHybrid)))
	switch mode {
	case searcher.SearchModeHybrid, searcher.SearchModeVector, searcher.SearchModeKeyword:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   mode,
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	minRelevance := request.GetFloat("min_relevance", 0)
	if minRelevance < 0 || minRelevance > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "min_relevance must be between 0 and 1", map[string]interface{}{
			"param": "min_relevance",
			"value": minRelevance,
		})
	}

	var filters *storage.SearchFilters
	if pattern := request.GetString("path_pattern", ""); pattern != "" || minRelevance > 0 {
		filters = &storage.SearchFilters{PathPattern: pattern, MinRelevance: minRelevance}
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Query:    query,
		Folder:   request.GetString("folder", ""),
		Limit:    limit,
		Mode:     mode,
		Filters:  filters,
		UseCache: true,
	})
	if err != nil {
		return s.toolError("search_documents", err)
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		entry := map[string]interface{}{
			"rank":            r.Rank,
			"relevance_score": r.RelevanceScore,
			"folder":          r.FolderPath,
			"path":            r.DocumentPath,
			"start_line":      r.StartLine,
			"end_line":        r.EndLine,
			"content":         r.Content,
		}
		if r.Heading != "" {
			entry["heading"] = r.Heading
		}
		results = append(results, entry)
	}

	return jsonResult(map[string]interface{}{
		"results":       results,
		"total_results": resp.TotalResults,
		"search_mode":   resp.SearchMode,
		"cache_hit":     resp.CacheHit,
		"duration_ms":   resp.Duration.Milliseconds(),
	})
}

// Helper functions

// toolError reports a failed command to the client as a tool result so the
// assistant can read the reason.
func (s *Server) toolError(tool string, err error) (*mcp.CallToolResult, error) {
	var verr *orchestrator.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, orchestrator.ErrFolderNotFound),
		errors.Is(err, orchestrator.ErrSystemBusy),
		errors.Is(err, searcher.ErrFolderNotFound),
		errors.Is(err, searcher.ErrNoFolders):
		s.logger.Debug().Err(err).Str("tool", tool).Msg("Tool rejected request")
	default:
		s.logger.Error().Err(err).Str("tool", tool).Msg("Tool failed")
	}
	return mcp.NewToolResultError(err.Error()), nil
}

// requirePath extracts the mandatory path argument
func requirePath(request mcp.CallToolRequest) (string, error) {
	path := strings.TrimSpace(request.GetString("path", ""))
	if path == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	return path, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// jsonResult formats data as an indented JSON text result
func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to encode result", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(string(bytes)), nil
}
