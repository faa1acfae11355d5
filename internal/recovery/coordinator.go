package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/docindex-mcp/internal/storage"
	"github.com/dshills/docindex-mcp/pkg/types"
)

// Store is the subset of storage.Storage recovery needs
type Store interface {
	LoadCheckpoint(ctx context.Context, folderPath string) (*types.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	DeleteCheckpoint(ctx context.Context, folderPath string) error
	CheckIntegrity(ctx context.Context, folderPath string) (types.Integrity, error)
	Repair(ctx context.Context, folderPath string) (*storage.RepairReport, error)
	FolderStats(ctx context.Context, folderPath string) (*storage.FolderStats, error)
}

// Reasons recorded on a Plan
const (
	ReasonNoCheckpoint   = "no checkpoint"
	ReasonTrusted        = "checkpoint trusted"
	ReasonRepaired       = "store repaired, checkpoint trusted"
	ReasonRepairDropped  = "store repair dropped documents"
	ReasonCorrupt        = "store corrupted, rebuilding required"
	ReasonModelChanged   = "embedding model changed"
	ReasonStoreEmpty     = "store has no documents for checkpointed folder"
	ReasonCheckFailed    = "integrity check failed"
	ReasonCheckpointRead = "checkpoint unreadable"
)

// Plan tells the orchestrator where a folder's first scan should begin.
// Checkpoint may be kept on a full rescan so the next generation number
// stays monotonic.
type Plan struct {
	FolderPath string
	Checkpoint *types.Checkpoint
	FullRescan bool
	Integrity  types.Integrity
	Reason     string
}

// ResumePoint is the outcome of matching a Plan against a fresh enumeration
type ResumePoint struct {
	Offset     int
	Generation int64
	Resumed    bool
}

// Coordinator reconciles persisted checkpoints with store integrity at startup
type Coordinator struct {
	store  Store
	logger zerolog.Logger
}

// NewCoordinator creates a recovery coordinator
func NewCoordinator(store Store, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		logger: logger.With().Str("component", "recovery").Logger(),
	}
}

// Reconcile builds a resume plan for every enabled folder. It never fails:
// a folder whose state cannot be trusted gets a full-rescan plan.
func (c *Coordinator) Reconcile(ctx context.Context, folders []types.FolderConfig) map[string]*Plan {
	plans := make(map[string]*Plan, len(folders))
	for _, f := range folders {
		if !f.Enabled {
			continue
		}
		plan := c.reconcileFolder(ctx, f)
		plans[f.Path] = plan

		ev := c.logger.Info()
		if plan.FullRescan {
			ev = c.logger.Warn()
		}
		ev.Str("folder", f.Path).
			Str("integrity", string(plan.Integrity)).
			Bool("full_rescan", plan.FullRescan).
			Int("resume_at", plan.Checkpoint.NextIndex()).
			Msg(plan.Reason)
	}
	return plans
}

func (c *Coordinator) reconcileFolder(ctx context.Context, f types.FolderConfig) *Plan {
	plan := &Plan{FolderPath: f.Path, Integrity: types.IntegrityHealthy}

	cp, err := c.store.LoadCheckpoint(ctx, f.Path)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		plan.FullRescan = true
		plan.Reason = ReasonNoCheckpoint
	case err != nil:
		c.logger.Error().Err(err).Str("folder", f.Path).Msg("failed to load checkpoint")
		plan.FullRescan = true
		plan.Reason = ReasonCheckpointRead
	default:
		plan.Checkpoint = cp
	}

	integrity, err := c.store.CheckIntegrity(ctx, f.Path)
	plan.Integrity = integrity
	if err != nil {
		c.logger.Error().Err(err).Str("folder", f.Path).Msg("integrity check failed")
		return rescan(plan, ReasonCheckFailed)
	}

	switch integrity {
	case types.IntegrityCorrupt:
		return rescan(plan, ReasonCorrupt)
	case types.IntegrityNeedsRepair:
		report, err := c.store.Repair(ctx, f.Path)
		if err != nil {
			c.logger.Error().Err(err).Str("folder", f.Path).Msg("store repair failed")
			plan.Integrity = types.IntegrityCorrupt
			return rescan(plan, ReasonCorrupt)
		}
		c.logger.Info().
			Str("folder", f.Path).
			Int("orphan_chunks", report.OrphanChunks).
			Int("orphan_embeddings", report.OrphanEmbeddings).
			Int("incomplete_documents", report.IncompleteDocuments).
			Msg("store repaired")
		// Dropped documents may sit before the checkpoint offset
		if report.IncompleteDocuments > 0 {
			return rescan(plan, ReasonRepairDropped)
		}
		if plan.Reason == "" {
			plan.Reason = ReasonRepaired
		}
	}

	if plan.FullRescan {
		return plan
	}
	if cp.Model != "" && f.EmbeddingModel != "" && cp.Model != f.EmbeddingModel {
		return rescan(plan, ReasonModelChanged)
	}
	if cp.LastCompletedFileIndex >= 0 {
		stats, err := c.store.FolderStats(ctx, f.Path)
		if err != nil || stats.DocumentCount == 0 {
			return rescan(plan, ReasonStoreEmpty)
		}
	}
	if plan.Reason == "" {
		plan.Reason = ReasonTrusted
	}
	return plan
}

func rescan(plan *Plan, reason string) *Plan {
	plan.FullRescan = true
	if plan.Reason == "" || plan.Reason == ReasonRepaired {
		plan.Reason = reason
	}
	return plan
}

// Resume matches plan against the current enumeration. An unchanged file
// list keeps the generation and continues after the last completed file; any
// difference bumps the generation and starts from file 0. A plan whose
// checkpoint already covers every file starts a fresh pass in the same
// generation.
func Resume(plan *Plan, fingerprint string, total int) ResumePoint {
	if plan == nil || plan.Checkpoint == nil {
		return ResumePoint{Generation: 1}
	}
	cp := plan.Checkpoint
	if plan.FullRescan {
		return ResumePoint{Generation: cp.ScanGeneration + 1}
	}
	if cp.Fingerprint != fingerprint || cp.TotalFilesAtScanStart != total {
		return ResumePoint{Generation: cp.ScanGeneration + 1}
	}
	if cp.Complete() {
		return ResumePoint{Generation: cp.ScanGeneration}
	}
	return ResumePoint{
		Offset:     cp.NextIndex(),
		Generation: cp.ScanGeneration,
		Resumed:    cp.NextIndex() > 0,
	}
}

// PlanFor loads the checkpoint of a single folder without integrity checks.
// Used for runs scheduled after startup, where the store was reconciled once.
// A checkpoint written for a different model is not resumed.
func (c *Coordinator) PlanFor(ctx context.Context, folderPath, model string) *Plan {
	cp, err := c.store.LoadCheckpoint(ctx, folderPath)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn().Err(err).Str("folder", folderPath).Msg("failed to load checkpoint")
		}
		return &Plan{FolderPath: folderPath, FullRescan: true, Integrity: types.IntegrityHealthy, Reason: ReasonNoCheckpoint}
	}
	plan := &Plan{FolderPath: folderPath, Checkpoint: cp, Integrity: types.IntegrityHealthy, Reason: ReasonTrusted}
	if cp.Model != "" && model != "" && cp.Model != model {
		plan.FullRescan = true
		plan.Reason = ReasonModelChanged
	}
	return plan
}

// Discard removes a folder's checkpoint, on folder removal
func (c *Coordinator) Discard(ctx context.Context, folderPath string) error {
	if err := c.store.DeleteCheckpoint(ctx, folderPath); err != nil {
		return fmt.Errorf("discard checkpoint for %s: %w", folderPath, err)
	}
	return nil
}

// NewCheckpointer starts checkpointing a scan of folderPath at generation
func (c *Coordinator) NewCheckpointer(folderPath, model, fingerprint string, total int, generation int64, every int, interval time.Duration) *Checkpointer {
	return newCheckpointer(c.store, c.logger, &types.Checkpoint{
		FolderPath:             folderPath,
		LastCompletedFileIndex: -1,
		TotalFilesAtScanStart:  total,
		ScanGeneration:         generation,
		Fingerprint:            fingerprint,
		Model:                  model,
	}, every, interval, time.Now)
}
