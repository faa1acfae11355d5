package orchestrator

import (
	"errors"
	"sort"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dshills/docindex-mcp/pkg/types"
)

// cronLogger routes scheduler messages through zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// newSchedule builds the maintenance schedule: the busy-retry sweep and,
// when configured, periodic rescans of idle folders.
func (o *Orchestrator) newSchedule() *cron.Cron {
	log := cronLogger{logger: o.logger.With().Str("subsystem", "maintenance").Logger()}
	c := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	c.Schedule(cron.Every(o.opts.BusyRetryInterval), cron.FuncJob(o.retryBusy))
	if o.opts.RescanInterval > 0 {
		c.Schedule(cron.Every(o.opts.RescanInterval), cron.FuncJob(o.rescanIdle))
	}
	return c
}

// retryBusy resubmits work that was rejected with a full queue. The sweep
// stops at the first folder the queue still rejects.
func (o *Orchestrator) retryBusy() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return
	}

	retried := 0
	for _, f := range o.sortedLocked() {
		if f.busy == nil || !f.cfg.Enabled {
			continue
		}
		req := f.busy
		f.busy = nil
		err := o.scheduleLocked(f, req.full, req.changes, req.priority)
		if errors.Is(err, ErrSystemBusy) {
			break
		}
		if err != nil {
			o.logger.Warn().Err(err).Str("folder", f.cfg.Path).Msg("Busy retry failed")
			continue
		}
		retried++
	}
	if retried > 0 {
		o.logger.Info().Int("folders", retried).Msg("Resubmitted work after queue was full")
	}
}

// rescanIdle submits a batch full scan for every idle, healthy folder.
// Unchanged files are skipped by hash, so a quiet folder costs one walk.
func (o *Orchestrator) rescanIdle() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return
	}

	for _, f := range o.sortedLocked() {
		if !f.cfg.Enabled || f.op != nil || f.busy != nil || f.state.Status == types.StatusError {
			continue
		}
		if err := o.scheduleLocked(f, true, nil, types.PriorityBatch); errors.Is(err, ErrSystemBusy) {
			return
		}
	}
}

func (o *Orchestrator) sortedLocked() []*folder {
	out := make([]*folder, 0, len(o.folders))
	for _, f := range o.folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].cfg.Path < out[j].cfg.Path })
	return out
}
