package resource

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/docindex-mcp/pkg/types"
)

// OperationKind describes what an operation will do once admitted
type OperationKind string

const (
	KindFullScan    OperationKind = "full-scan"
	KindIncremental OperationKind = "incremental"
	KindFileUpdate  OperationKind = "file-update"
)

// Operation is one unit of schedulable indexing work
type Operation struct {
	ID                string
	FolderPath        string
	Kind              OperationKind
	Priority          types.Priority
	EstimatedMemoryMB int
	EnqueuedAt        time.Time

	status atomic.Value // types.OperationStatus
	seq    uint64       // insertion order, breaks EnqueuedAt ties
	index  int          // heap position, -1 when not queued
}

// NewOperation creates a queued operation with a fresh id
func NewOperation(folderPath string, kind OperationKind, priority types.Priority) *Operation {
	op := &Operation{
		ID:         uuid.NewString(),
		FolderPath: folderPath,
		Kind:       kind,
		Priority:   priority,
		index:      -1,
	}
	op.setStatus(types.OperationQueued)
	return op
}

// Status returns the operation's current scheduler status
func (o *Operation) Status() types.OperationStatus {
	if v, ok := o.status.Load().(types.OperationStatus); ok {
		return v
	}
	return types.OperationQueued
}

func (o *Operation) setStatus(s types.OperationStatus) {
	o.status.Store(s)
}
