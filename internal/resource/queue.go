package resource

import (
	"container/heap"
	"errors"
	"sort"
)

// ErrQueueFull is returned when the queue is at capacity
var ErrQueueFull = errors.New("operation queue is full")

// PriorityQueue orders pending operations by (priority desc, enqueuedAt asc).
// It is not safe for concurrent use; the Manager serializes access.
type PriorityQueue struct {
	items    opHeap
	capacity int
	nextSeq  uint64
}

// NewPriorityQueue creates a queue bounded by capacity (<= 0 means unbounded)
func NewPriorityQueue(capacity int) *PriorityQueue {
	return &PriorityQueue{capacity: capacity}
}

// Len returns the number of queued operations
func (q *PriorityQueue) Len() int { return len(q.items) }

// Cap returns the configured capacity
func (q *PriorityQueue) Cap() int { return q.capacity }

// Full reports whether another Push would be rejected
func (q *PriorityQueue) Full() bool {
	return q.capacity > 0 && len(q.items) >= q.capacity
}

// Push adds an operation, rejecting it when the queue is full
func (q *PriorityQueue) Push(op *Operation) error {
	if q.Full() {
		return ErrQueueFull
	}
	q.nextSeq++
	op.seq = q.nextSeq
	heap.Push(&q.items, op)
	return nil
}

// Peek returns the next operation without removing it
func (q *PriorityQueue) Peek() *Operation {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Pop removes and returns the next operation
func (q *PriorityQueue) Pop() *Operation {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*Operation)
}

// Contains reports whether an operation with id is queued
func (q *PriorityQueue) Contains(id string) bool {
	for _, op := range q.items {
		if op.ID == id {
			return true
		}
	}
	return false
}

// Remove deletes the operation with the given id
func (q *PriorityQueue) Remove(id string) *Operation {
	for _, op := range q.items {
		if op.ID == id {
			return heap.Remove(&q.items, op.index).(*Operation)
		}
	}
	return nil
}

// RemoveFolder deletes every operation queued for folderPath
func (q *PriorityQueue) RemoveFolder(folderPath string) []*Operation {
	var removed []*Operation
	for i := len(q.items) - 1; i >= 0; i-- {
		if q.items[i].FolderPath == folderPath {
			removed = append(removed, q.items[i])
		}
	}
	for _, op := range removed {
		heap.Remove(&q.items, op.index)
	}
	return removed
}

// Snapshot returns the queued operations in dequeue order
func (q *PriorityQueue) Snapshot() []*Operation {
	out := make([]*Operation, len(q.items))
	copy(out, q.items)
	sort.Slice(out, func(i, j int) bool { return before(out[i], out[j]) })
	return out
}

// before reports whether a dequeues ahead of b
func before(a, b *Operation) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.seq < b.seq
}

type opHeap []*Operation

func (h opHeap) Len() int           { return len(h) }
func (h opHeap) Less(i, j int) bool { return before(h[i], h[j]) }
func (h opHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *opHeap) Push(x any) {
	op := x.(*Operation)
	op.index = len(*h)
	*h = append(*h, op)
}

func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	op.index = -1
	*h = old[:n-1]
	return op
}
