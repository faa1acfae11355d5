package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/docindex-mcp/pkg/types"
)

// Checkpointer persists scan progress at a bounded rate: a write happens
// once every N completed files or once per interval, whichever comes first.
type Checkpointer struct {
	mu       sync.Mutex
	store    Store
	logger   zerolog.Logger
	cp       types.Checkpoint
	every    int
	interval time.Duration
	now      func() time.Time

	pending   int // completed files since the last write
	lastWrite time.Time
	dirty     bool
	writes    int
}

func newCheckpointer(store Store, logger zerolog.Logger, cp *types.Checkpoint, every int, interval time.Duration, now func() time.Time) *Checkpointer {
	if every <= 0 {
		every = 25
	}
	return &Checkpointer{
		store:     store,
		logger:    logger,
		cp:        *cp,
		every:     every,
		interval:  interval,
		now:       now,
		lastWrite: now(),
	}
}

// Start records the resume position so a flush before the first completed
// file still carries the right generation.
func (c *Checkpointer) Start(ctx context.Context, offset int) error {
	c.mu.Lock()
	c.cp.LastCompletedFileIndex = offset - 1
	c.dirty = true
	c.mu.Unlock()
	return c.Flush(ctx)
}

// Advance marks file index (and its relative path) as completed, writing a
// checkpoint when the file count or interval threshold is reached.
func (c *Checkpointer) Advance(ctx context.Context, index int, relPath string) error {
	c.mu.Lock()
	if index > c.cp.LastCompletedFileIndex {
		c.cp.LastCompletedFileIndex = index
		c.cp.LastCompletedPath = relPath
	}
	c.pending++
	c.dirty = true
	due := c.pending >= c.every || (c.interval > 0 && c.now().Sub(c.lastWrite) >= c.interval)
	c.mu.Unlock()

	if !due {
		return nil
	}
	return c.Flush(ctx)
}

// Flush writes the current position if anything changed since the last write
func (c *Checkpointer) Flush(ctx context.Context) error {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	cp := c.cp
	cp.UpdatedAt = c.now()
	c.mu.Unlock()

	if err := c.store.SaveCheckpoint(ctx, &cp); err != nil {
		c.logger.Warn().Err(err).Str("folder", cp.FolderPath).Msg("failed to write checkpoint")
		return err
	}

	c.mu.Lock()
	c.pending = 0
	c.lastWrite = cp.UpdatedAt
	c.dirty = false
	c.writes++
	c.mu.Unlock()
	return nil
}

// Checkpoint returns a copy of the in-memory checkpoint
func (c *Checkpointer) Checkpoint() types.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cp
}

// Writes returns how many checkpoints were persisted
func (c *Checkpointer) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}
