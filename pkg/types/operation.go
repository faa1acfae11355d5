package types

import "fmt"

// Priority orders schedulable work; higher values run first
type Priority int

const (
	PriorityBatch Priority = iota
	PriorityInteractive
	PriorityImmediate
)

func (p Priority) String() string {
	switch p {
	case PriorityBatch:
		return "batch"
	case PriorityInteractive:
		return "interactive"
	case PriorityImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a priority name back to its value
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "batch":
		return PriorityBatch, nil
	case "interactive":
		return PriorityInteractive, nil
	case "immediate":
		return PriorityImmediate, nil
	default:
		return PriorityBatch, fmt.Errorf("unknown priority %q", s)
	}
}

// OperationStatus tracks an IndexOperation through the scheduler
type OperationStatus string

const (
	OperationQueued    OperationStatus = "queued"
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationCancelled OperationStatus = "cancelled"
	OperationFailed    OperationStatus = "failed"
)

// Terminal reports whether no further transitions are possible
func (s OperationStatus) Terminal() bool {
	return s == OperationCompleted || s == OperationCancelled || s == OperationFailed
}

// ChangeType describes a file-watcher event
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

// Integrity is the store's self-reported health for one folder
type Integrity string

const (
	IntegrityHealthy     Integrity = "healthy"
	IntegrityNeedsRepair Integrity = "needs-repair"
	IntegrityCorrupt     Integrity = "corrupt"
)
