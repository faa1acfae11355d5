package indexer

import (
	"path/filepath"
	"sync"
	"sync/atomic"
)

// IndexLock provides non-blocking lock semantics using atomic operations.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether the lock is currently held
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}

// Registry hands out one IndexLock per folder path so that at most one
// worker runs per folder.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*IndexLock
}

// NewRegistry creates an empty lock registry
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*IndexLock)}
}

// TryAcquire takes the folder's lock without blocking
func (r *Registry) TryAcquire(folder string) bool {
	return r.lock(folder).TryAcquire()
}

// Release frees the folder's lock
func (r *Registry) Release(folder string) {
	r.lock(folder).Release()
}

// Held reports whether a worker currently holds folder
func (r *Registry) Held(folder string) bool {
	return r.lock(folder).Held()
}

// Forget drops an unheld lock, on folder removal
func (r *Registry) Forget(folder string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := filepath.Clean(folder)
	if l, ok := r.locks[key]; ok && !l.Held() {
		delete(r.locks, key)
	}
}

func (r *Registry) lock(folder string) *IndexLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := filepath.Clean(folder)
	l, ok := r.locks[key]
	if !ok {
		l = &IndexLock{}
		r.locks[key] = l
	}
	return l
}
