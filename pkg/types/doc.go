// Package types provides shared type definitions for the docindex daemon.
//
// The types here are exchanged between the scheduler, the indexing workers,
// the storage layer and the MCP surface, so they carry no behaviour beyond
// validation and small derived values.
//
// # Folder lifecycle
//
// A configured folder moves through FolderStatus values driven by its worker:
//
//	pending -> scanning -> indexing -> active
//	               \          \
//	                -> error <-/
//	active -> indexing   (file change or model change)
//
// FolderState is the snapshot published to status subscribers:
//
//	state := types.FolderState{
//	    Path:          "/home/me/notes",
//	    Status:        types.StatusIndexing,
//	    Progress:      42.5,
//	    DocumentCount: 118,
//	}
//
// # Scheduling
//
// Priority orders queued work: PriorityImmediate > PriorityInteractive >
// PriorityBatch. OperationStatus follows a single operation from queued to one
// of the terminal states.
//
// # Documents and chunks
//
// Document is the parsed text of one file. Chunk is a contiguous slice of a
// document sized for one embedding call:
//
//	chunk := &types.Chunk{Content: paragraph, StartLine: 10, EndLine: 24}
//	chunk.ComputeTokenCount()
//	chunk.ComputeContentHash()
package types
