package resource

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sample is a point-in-time reading of process and system resources
type Sample struct {
	HeapUsedMB   float64
	HeapTotalMB  float64
	CPUPercent   float64
	SystemFreeMB float64
	Stale        bool // true when the last read failed and this is the last good value
	TakenAt      time.Time
}

// SampleFunc reads the current resource usage
type SampleFunc func() (Sample, error)

// Monitor samples memory and CPU usage. It reports facts only and never
// decides policy.
type Monitor struct {
	mu      sync.Mutex
	sampler SampleFunc
	last    Sample
	hasLast bool
	logger  zerolog.Logger
}

// NewMonitor creates a monitor; a nil sampler uses the runtime sampler
func NewMonitor(logger zerolog.Logger, sampler SampleFunc) *Monitor {
	if sampler == nil {
		sampler = NewRuntimeSampler().Sample
	}
	return &Monitor{
		sampler: sampler,
		logger:  logger.With().Str("component", "resource-monitor").Logger(),
	}
}

// Sample returns the current reading. On failure it returns the last good
// sample flagged as stale. It never panics.
func (m *Monitor) Sample() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.safeSample()
	if err != nil {
		m.logger.Debug().Err(err).Msg("Resource sample failed, using last known value")
		stale := m.last
		stale.Stale = true
		return stale
	}
	s.Stale = false
	if s.TakenAt.IsZero() {
		s.TakenAt = time.Now()
	}
	m.last = s
	m.hasLast = true
	return s
}

// Last returns the most recent good sample without sampling again
func (m *Monitor) Last() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.hasLast
}

func (m *Monitor) safeSample() (s Sample, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sampler panic: %v", r)
		}
	}()
	return m.sampler()
}

// RuntimeSampler reads heap statistics from the Go runtime and process CPU
// time from the OS.
type RuntimeSampler struct {
	mu       sync.Mutex
	lastCPU  time.Duration
	lastWall time.Time
}

// NewRuntimeSampler creates a sampler primed with the current CPU time
func NewRuntimeSampler() *RuntimeSampler {
	s := &RuntimeSampler{lastWall: time.Now()}
	if cpu, err := processCPUTime(); err == nil {
		s.lastCPU = cpu
	}
	return s
}

// Sample implements SampleFunc
func (r *RuntimeSampler) Sample() (Sample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	now := time.Now()
	s := Sample{
		HeapUsedMB:  bytesToMB(ms.HeapAlloc),
		HeapTotalMB: bytesToMB(ms.HeapSys),
		TakenAt:     now,
	}

	cpu, err := processCPUTime()
	if err != nil {
		return Sample{}, fmt.Errorf("read cpu time: %w", err)
	}

	r.mu.Lock()
	wall := now.Sub(r.lastWall)
	if wall > 0 {
		used := cpu - r.lastCPU
		s.CPUPercent = float64(used) / float64(wall) / float64(runtime.NumCPU()) * 100
	}
	r.lastCPU = cpu
	r.lastWall = now
	r.mu.Unlock()

	// Free memory is informational; platforms without /proc report zero
	if free, err := systemFreeMB(); err == nil {
		s.SystemFreeMB = free
	}
	return s, nil
}

func bytesToMB(b uint64) float64 {
	return float64(b) / (1024 * 1024)
}

// systemFreeMB reads MemAvailable from /proc/meminfo
func systemFreeMB() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, err
		}
		return kb / 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("MemAvailable not found")
}
