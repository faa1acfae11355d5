package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

const folderPathDescription = "Absolute path to the folder"

// addFolderTool returns the tool definition for add_folder
func addFolderTool() mcp.Tool {
	return mcp.NewTool("add_folder",
		mcp.WithDescription("Add a folder to the index. The folder is scanned in the background; use list_folders to follow its progress."),
		mcp.WithString("path",
			mcp.Description("Absolute path to an existing directory. Must not contain or sit inside another configured folder."),
			mcp.Required(),
		),
		mcp.WithString("model",
			mcp.Description("Embedding model for this folder. Omit to use the configured default."),
		),
	)
}

// removeFolderTool returns the tool definition for remove_folder
func removeFolderTool() mcp.Tool {
	return mcp.NewTool("remove_folder",
		mcp.WithDescription("Stop indexing a folder and delete its indexed documents"),
		mcp.WithString("path",
			mcp.Description(folderPathDescription),
			mcp.Required(),
		),
	)
}

// pauseFolderTool returns the tool definition for pause_folder
func pauseFolderTool() mcp.Tool {
	return mcp.NewTool("pause_folder",
		mcp.WithDescription("Pause indexing for a folder. Its documents stay searchable."),
		mcp.WithString("path",
			mcp.Description(folderPathDescription),
			mcp.Required(),
		),
	)
}

// resumeFolderTool returns the tool definition for resume_folder
func resumeFolderTool() mcp.Tool {
	return mcp.NewTool("resume_folder",
		mcp.WithDescription("Resume a paused folder, or retry one that failed. Indexing continues from the last checkpoint when possible."),
		mcp.WithString("path",
			mcp.Description(folderPathDescription),
			mcp.Required(),
		),
	)
}

// setFolderModelTool returns the tool definition for set_folder_model
func setFolderModelTool() mcp.Tool {
	return mcp.NewTool("set_folder_model",
		mcp.WithDescription("Change the embedding model of a folder and re-index it"),
		mcp.WithString("path",
			mcp.Description(folderPathDescription),
			mcp.Required(),
		),
		mcp.WithString("model",
			mcp.Description("Embedding model name"),
			mcp.Required(),
		),
	)
}

// listFoldersTool returns the tool definition for list_folders
func listFoldersTool() mcp.Tool {
	return mcp.NewTool("list_folders",
		mcp.WithDescription("List configured folders with their status, progress and document counts"),
	)
}

// getStatsTool returns the tool definition for get_stats
func getStatsTool() mcp.Tool {
	return mcp.NewTool("get_stats",
		mcp.WithDescription("Report scheduler load: running and queued operations, memory pressure and throttling"),
	)
}

// searchDocumentsTool returns the tool definition for search_documents
func searchDocumentsTool() mcp.Tool {
	return mcp.NewTool("search_documents",
		mcp.WithDescription("Search indexed documents with natural language or keyword queries"),
		mcp.WithString("query",
			mcp.Description("Search query (natural language or keywords)"),
			mcp.Required(),
		),
		mcp.WithString("folder",
			mcp.Description("Restrict the search to one configured folder. Omit to search all folders."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (1-100)"),
			mcp.DefaultNumber(10),
			mcp.Min(1),
			mcp.Max(100),
		),
		mcp.WithString("search_mode",
			mcp.Description("Search strategy: hybrid (vector + keyword), vector (semantic only), or keyword (BM25 only)"),
			mcp.Enum("hybrid", "vector", "keyword"),
			mcp.DefaultString("hybrid"),
		),
		mcp.WithString("path_pattern",
			mcp.Description("Glob over document paths relative to their folder (e.g., 'notes/*.md')"),
		),
		mcp.WithNumber("min_relevance",
			mcp.Description("Minimum relevance score threshold (0.0-1.0)"),
			mcp.Min(0),
			mcp.Max(1),
		),
	)
}
