package indexer

import (
	"time"

	"github.com/dshills/docindex-mcp/pkg/types"
)

// Progress is one status update from a running worker
type Progress struct {
	Status        types.FolderStatus
	Progress      float64 // 0-100
	DocumentCount int
	TotalBytes    int64
	Processed     int
	Total         int
}

// Reporter receives progress updates. It is called from the worker goroutine
// and must not block.
type Reporter func(Progress)

// throttle limits file-boundary updates to at most one per interval and one
// per `every` files, whichever is less frequent. Status changes and the
// final update always go through.
type throttle struct {
	report   Reporter
	interval time.Duration
	every    int
	now      func() time.Time

	last       time.Time
	sinceLast  int
	lastStatus types.FolderStatus
}

func newThrottle(report Reporter, interval time.Duration, every int, now func() time.Time) *throttle {
	if report == nil {
		report = func(Progress) {}
	}
	return &throttle{report: report, interval: interval, every: every, now: now}
}

// file records a completed file boundary and reports if both limits allow it
func (t *throttle) file(p Progress) {
	t.sinceLast++
	if p.Status == t.lastStatus && (t.now().Sub(t.last) < t.interval || t.sinceLast < t.every) {
		return
	}
	t.emit(p)
}

// force reports unconditionally
func (t *throttle) force(p Progress) {
	t.emit(p)
}

func (t *throttle) emit(p Progress) {
	t.last = t.now()
	t.sinceLast = 0
	t.lastStatus = p.Status
	t.report(p)
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	pct := float64(done) * 100 / float64(total)
	if pct > 100 {
		return 100
	}
	return pct
}
