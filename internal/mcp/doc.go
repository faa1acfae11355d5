// Package mcp implements the Model Context Protocol (MCP) server for docindex.
//
// The server exposes folder management and search to AI assistants:
//   - add_folder: Add a folder and start indexing it in the background
//   - remove_folder: Stop indexing a folder and delete its documents
//   - pause_folder / resume_folder: Hold or continue indexing for a folder
//   - set_folder_model: Switch a folder's embedding model and re-index
//   - list_folders: Per-folder status, progress and document counts
//   - get_stats: Scheduler load, memory pressure and throttling
//   - search_documents: Hybrid, vector or keyword search over indexed text
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started by the serve command and writes protocol messages
// to stdout; logs go to stderr.
//
//	docindex serve
//
// # Tool: add_folder
//
//	Request:
//	{
//	  "name": "add_folder",
//	  "arguments": {"path": "/home/me/notes", "model": "text-embedding-3-small"}
//	}
//
//	Response:
//	{
//	  "added": true,
//	  "folder": {"path": "/home/me/notes", "status": "pending", "progress": 0, ...}
//	}
//
// Indexing runs in the background; poll list_folders for progress. When the
// scheduler queue is full the folder is still added and a message says
// indexing will start shortly.
//
// # Tool: search_documents
//
//	Request:
//	{
//	  "name": "search_documents",
//	  "arguments": {
//	    "query": "quarterly budget review",
//	    "folder": "/home/me/notes",
//	    "limit": 10,
//	    "search_mode": "hybrid",
//	    "path_pattern": "work/*.md"
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "rank": 1,
//	      "relevance_score": 0.92,
//	      "folder": "/home/me/notes",
//	      "path": "work/q3.md",
//	      "start_line": 12,
//	      "end_line": 30,
//	      "content": "..."
//	    }
//	  ],
//	  "total_results": 1,
//	  "search_mode": "hybrid"
//	}
//
// Each search briefly pauses batch indexing so the query gets the machine.
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "docindex": {
//	      "command": "/usr/local/bin/docindex",
//	      "args": ["serve"],
//	      "env": {"OPENAI_API_KEY": "your-api-key"}
//	    }
//	  }
//	}
//
// # Error Handling
//
// Malformed arguments are JSON-RPC errors:
//
//	{"error": {"code": -32602, "message": "MCP error -32602: path parameter is required"}}
//
// Error codes:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error
//   - -32004: Empty query
//
// Rejected commands (overlapping folder, unknown folder, busy system) come
// back as tool results with isError set, so the assistant can read the
// reason and act on it.
package mcp
