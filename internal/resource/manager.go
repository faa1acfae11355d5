package resource

import (
	"context"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/docindex-mcp/internal/config"
	"github.com/dshills/docindex-mcp/pkg/types"
)

// Admission rejection reasons
const (
	ReasonQueueFull = "queue_full"
	ReasonDuplicate = "duplicate_operation"
)

// Band applies Factor once pressure is strictly above the threshold, so
// pressure of exactly 0.9 still falls in the 0.7 band
type Band struct {
	Above  float64
	Factor float64
}

// Config bounds the scheduler
type Config struct {
	MaxConcurrentOperations  int
	MaxMemoryMB              int
	MaxCPUPercent            float64
	MaxQueueSize             int
	DefaultOperationMemoryMB int
	SampleInterval           time.Duration
	HardCeiling              float64 // pressure at or above which nothing new is admitted
	ReclaimThreshold         float64
	ReclaimAfter             time.Duration
	CrawlPause               time.Duration
	Bands                    []Band // ascending by Above
}

// DefaultConfig returns the default budget: 3 concurrent operations, 1 GiB
func DefaultConfig() Config {
	return Config{
		MaxConcurrentOperations:  3,
		MaxMemoryMB:              1024,
		MaxCPUPercent:            80,
		MaxQueueSize:             100,
		DefaultOperationMemoryMB: 64,
		SampleInterval:           time.Second,
		HardCeiling:              0.95,
		ReclaimThreshold:         0.8,
		ReclaimAfter:             5 * time.Second,
		CrawlPause:               5 * time.Second,
		Bands: []Band{
			{Above: 0.5, Factor: 0.75},
			{Above: 0.7, Factor: 0.5},
			{Above: 0.9, Factor: 0.25},
		},
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxConcurrentOperations <= 0 {
		c.MaxConcurrentOperations = d.MaxConcurrentOperations
	}
	if c.MaxMemoryMB <= 0 {
		c.MaxMemoryMB = d.MaxMemoryMB
	}
	if c.MaxCPUPercent <= 0 {
		c.MaxCPUPercent = d.MaxCPUPercent
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = d.SampleInterval
	}
	if c.HardCeiling <= 0 {
		c.HardCeiling = d.HardCeiling
	}
	if c.ReclaimThreshold <= 0 {
		c.ReclaimThreshold = d.ReclaimThreshold
	}
	if c.ReclaimAfter <= 0 {
		c.ReclaimAfter = d.ReclaimAfter
	}
	if c.CrawlPause <= 0 {
		c.CrawlPause = d.CrawlPause
	}
	if c.Bands == nil {
		c.Bands = d.Bands
	}
}

// ConfigFrom maps the daemon's resource settings onto a manager Config.
// Zero values fall back to the defaults.
func ConfigFrom(rc config.ResourceConfig) Config {
	cfg := Config{
		MaxConcurrentOperations:  rc.MaxConcurrentOperations,
		MaxMemoryMB:              rc.MaxMemoryMB,
		MaxCPUPercent:            rc.MaxCPUPercent,
		MaxQueueSize:             rc.MaxQueueSize,
		DefaultOperationMemoryMB: rc.DefaultOperationMemoryMB,
		SampleInterval:           rc.SampleInterval,
		HardCeiling:              rc.HardCeiling,
		ReclaimThreshold:         rc.ReclaimThreshold,
		ReclaimAfter:             rc.ReclaimAfter,
		CrawlPause:               rc.CrawlPause,
	}
	for _, b := range rc.Bands {
		cfg.Bands = append(cfg.Bands, Band{Above: b.Above, Factor: b.Factor})
	}
	cfg.applyDefaults()
	return cfg
}

// AdmissionResult is the outcome of RequestSlot
type AdmissionResult struct {
	Admitted bool
	Queued   bool
	Rejected bool
	Reason   string
}

// Stats is a read-only snapshot of the scheduler
type Stats struct {
	RunningCount         int
	QueuedCount          int
	ThrottleFactor       float64
	PressureLevel        float64
	EffectiveConcurrency int
	ReservedMemoryMB     int
	BatchPaused          bool
	Sample               Sample
}

// DispatchFunc is invoked for queued operations once they are admitted. It
// is called without the manager lock held and must not block.
type DispatchFunc func(op *Operation)

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithReclaimer replaces the memory reclamation hook (default debug.FreeOSMemory)
func WithReclaimer(fn func()) Option {
	return func(m *Manager) { m.reclaim = fn }
}

// Manager owns the priority queue and the resource monitor, and decides how
// many operations may run and which runs next. All decisions happen under one
// mutex so admission checks never race with throttle updates.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	monitor  *Monitor
	queue    *PriorityQueue
	running  map[string]*Operation
	reserved int

	throttle    float64
	pressure    float64
	lastSample  Sample
	highSince   time.Time
	lastReclaim time.Time
	pausedUntil time.Time

	dispatch DispatchFunc
	reclaim  func()
	now      func() time.Time
	logger   zerolog.Logger
}

// NewManager creates a manager; call Run to start the sampling loop
func NewManager(cfg Config, monitor *Monitor, logger zerolog.Logger, opts ...Option) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:      cfg,
		monitor:  monitor,
		queue:    NewPriorityQueue(cfg.MaxQueueSize),
		running:  make(map[string]*Operation),
		throttle: 1.0,
		reclaim:  debug.FreeOSMemory,
		now:      time.Now,
		logger:   logger.With().Str("component", "resource-manager").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnAdmit registers the dispatcher for operations admitted from the queue
func (m *Manager) OnAdmit(fn DispatchFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatch = fn
}

// RequestSlot asks to run op now. It never blocks: the operation is either
// admitted, queued for later dispatch, or rejected because the queue is full.
func (m *Manager) RequestSlot(op *Operation) AdmissionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = m.now()
	}
	if op.EstimatedMemoryMB <= 0 {
		op.EstimatedMemoryMB = m.cfg.DefaultOperationMemoryMB
	}
	if _, dup := m.running[op.ID]; dup || m.queue.Contains(op.ID) {
		return AdmissionResult{Rejected: true, Reason: ReasonDuplicate}
	}

	head := m.queue.Peek()
	if m.canAdmitLocked(op) && (head == nil || op.Priority > head.Priority) {
		m.admitLocked(op)
		return AdmissionResult{Admitted: true}
	}

	if err := m.queue.Push(op); err != nil {
		op.setStatus(types.OperationFailed)
		m.logger.Warn().
			Str("folder", op.FolderPath).
			Str("operation_id", op.ID).
			Int("queue_size", m.queue.Len()).
			Msg("Operation rejected, queue full")
		return AdmissionResult{Rejected: true, Reason: ReasonQueueFull}
	}
	op.setStatus(types.OperationQueued)
	m.logger.Debug().
		Str("folder", op.FolderPath).
		Str("operation_id", op.ID).
		Stringer("priority", op.Priority).
		Int("queued", m.queue.Len()).
		Msg("Operation queued")
	return AdmissionResult{Queued: true}
}

// ReleaseSlot marks a running operation completed and frees its slot
func (m *Manager) ReleaseSlot(id string) {
	m.ReleaseSlotWithStatus(id, types.OperationCompleted)
}

// ReleaseSlotWithStatus frees the slot and records the final status. A second
// release of the same id is logged and ignored.
func (m *Manager) ReleaseSlotWithStatus(id string, status types.OperationStatus) {
	m.mu.Lock()
	op, ok := m.running[id]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn().Str("operation_id", id).Msg("Release of unknown or already released operation ignored")
		return
	}
	delete(m.running, id)
	m.reserved -= op.EstimatedMemoryMB
	if m.reserved < 0 {
		m.reserved = 0
	}
	if !status.Terminal() {
		status = types.OperationCompleted
	}
	op.setStatus(status)
	admitted := m.drainLocked()
	m.mu.Unlock()

	m.dispatchAll(admitted)
}

// Cancel removes a queued operation. Running operations are not affected.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	op := m.queue.Remove(id)
	if op == nil {
		return false
	}
	op.setStatus(types.OperationCancelled)
	return true
}

// CancelFolder removes every queued operation for folderPath
func (m *Manager) CancelFolder(folderPath string) []*Operation {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.queue.RemoveFolder(folderPath)
	for _, op := range removed {
		op.setStatus(types.OperationCancelled)
	}
	return removed
}

// PauseBatch holds back batch operations for d (the configured crawl pause
// when d <= 0). Returns the time the pause ends.
func (m *Manager) PauseBatch(d time.Duration) time.Time {
	if d <= 0 {
		d = m.cfg.CrawlPause
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	until := m.now().Add(d)
	if until.After(m.pausedUntil) {
		m.pausedUntil = until
	}
	return m.pausedUntil
}

// Wait blocks a batch worker while a crawl pause is in effect. Other
// priorities return immediately.
func (m *Manager) Wait(ctx context.Context, priority types.Priority) error {
	if priority != types.PriorityBatch {
		return nil
	}
	for {
		m.mu.Lock()
		remaining := m.pausedUntil.Sub(m.now())
		m.mu.Unlock()
		if remaining <= 0 {
			return nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetStats returns a snapshot for observability
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		RunningCount:         len(m.running),
		QueuedCount:          m.queue.Len(),
		ThrottleFactor:       m.throttle,
		PressureLevel:        m.pressure,
		EffectiveConcurrency: m.effectiveLocked(),
		ReservedMemoryMB:     m.reserved,
		BatchPaused:          m.batchPausedLocked(),
		Sample:               m.lastSample,
	}
}

// QueuedOperations returns queued operations in dequeue order
func (m *Manager) QueuedOperations() []*Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Snapshot()
}

// Run samples the monitor every SampleInterval until ctx is cancelled
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	m.Tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick takes one sample, updates pressure and throttle, and admits queued
// operations that now fit.
func (m *Manager) Tick() {
	var sample Sample
	if m.monitor != nil {
		sample = m.monitor.Sample()
	}

	m.mu.Lock()
	now := m.now()
	prevThrottle := m.throttle
	m.lastSample = sample
	m.pressure = m.pressureFor(sample)
	m.throttle = m.throttleFor(m.pressure)

	reclaim := false
	if m.pressure > m.cfg.ReclaimThreshold {
		if m.highSince.IsZero() {
			m.highSince = now
		}
		if now.Sub(m.highSince) >= m.cfg.ReclaimAfter && now.Sub(m.lastReclaim) >= m.cfg.ReclaimAfter {
			m.lastReclaim = now
			reclaim = true
		}
	} else {
		m.highSince = time.Time{}
	}

	if m.throttle != prevThrottle {
		m.logger.Info().
			Float64("pressure", m.pressure).
			Float64("throttle", m.throttle).
			Int("effective_concurrency", m.effectiveLocked()).
			Bool("stale_sample", sample.Stale).
			Msg("Throttle factor changed")
	}
	admitted := m.drainLocked()
	pressure := m.pressure
	m.mu.Unlock()

	if reclaim && m.reclaim != nil {
		m.logger.Info().Float64("pressure", pressure).Msg("Sustained memory pressure, requesting reclamation")
		m.reclaim()
	}
	m.dispatchAll(admitted)
}

// EffectiveConcurrency returns floor(max*factor), never below 1
func EffectiveConcurrency(maxConcurrent int, factor float64) int {
	n := int(math.Floor(float64(maxConcurrent) * factor))
	if n < 1 {
		return 1
	}
	return n
}

func (m *Manager) pressureFor(s Sample) float64 {
	mem := s.HeapUsedMB / float64(m.cfg.MaxMemoryMB)
	cpu := s.CPUPercent / m.cfg.MaxCPUPercent
	return math.Max(mem, cpu)
}

func (m *Manager) throttleFor(pressure float64) float64 {
	factor := 1.0
	for _, b := range m.cfg.Bands {
		if pressure > b.Above {
			factor = b.Factor
		}
	}
	return factor
}

func (m *Manager) effectiveLocked() int {
	return EffectiveConcurrency(m.cfg.MaxConcurrentOperations, m.throttle)
}

func (m *Manager) batchPausedLocked() bool {
	return m.now().Before(m.pausedUntil)
}

func (m *Manager) canAdmitLocked(op *Operation) bool {
	if len(m.running) >= m.effectiveLocked() {
		return false
	}
	if m.pressure >= m.cfg.HardCeiling {
		return false
	}
	if len(m.running) > 0 && m.reserved+op.EstimatedMemoryMB > m.cfg.MaxMemoryMB {
		return false
	}
	if op.Priority == types.PriorityBatch && m.batchPausedLocked() {
		return false
	}
	return true
}

func (m *Manager) admitLocked(op *Operation) {
	m.running[op.ID] = op
	m.reserved += op.EstimatedMemoryMB
	op.setStatus(types.OperationRunning)
	m.logger.Debug().
		Str("folder", op.FolderPath).
		Str("operation_id", op.ID).
		Stringer("priority", op.Priority).
		Int("running", len(m.running)).
		Msg("Operation admitted")
}

// drainLocked admits queue heads while they fit. Lower-priority operations
// never jump ahead of a blocked head.
func (m *Manager) drainLocked() []*Operation {
	var admitted []*Operation
	for {
		head := m.queue.Peek()
		if head == nil || !m.canAdmitLocked(head) {
			return admitted
		}
		m.queue.Pop()
		m.admitLocked(head)
		admitted = append(admitted, head)
	}
}

func (m *Manager) dispatchAll(ops []*Operation) {
	if len(ops) == 0 {
		return
	}
	m.mu.Lock()
	dispatch := m.dispatch
	m.mu.Unlock()

	for _, op := range ops {
		if dispatch == nil {
			m.logger.Error().Str("operation_id", op.ID).Msg("No dispatcher registered for admitted operation")
			continue
		}
		dispatch(op)
	}
}

// Gate is the crawl pause check running workers call between files
type Gate interface {
	Wait(ctx context.Context, priority types.Priority) error
}

// Gate returns the manager's crawl pause gate
func (m *Manager) Gate() Gate { return m }
