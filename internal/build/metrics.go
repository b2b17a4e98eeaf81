package build

import (
	"sync"
	"time"

	"github.com/conneroisu/pagepack/internal/route"
)

// Stats is a point-in-time view of a pipeline's endpoint writes.
type Stats struct {
	Writes    int64
	Succeeded int64
	Failed    int64
	Total     time.Duration
	// Slowest is the pathname of the slowest write so far.
	Slowest         string
	SlowestDuration time.Duration
	ByKind          map[route.Kind]int64
}

// Average is the mean write duration, zero before the first write.
func (s Stats) Average() time.Duration {
	if s.Writes == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Writes)
}

// SuccessRate is the share of successful writes as a percentage.
func (s Stats) SuccessRate() float64 {
	if s.Writes == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Writes) * 100
}

// BuildMetrics accumulates Stats across concurrent workers.
type BuildMetrics struct {
	mu    sync.Mutex
	stats Stats
}

func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{stats: Stats{ByKind: map[route.Kind]int64{}}}
}

// RecordBuild folds one result into the totals.
func (bm *BuildMetrics) RecordBuild(result BuildResult) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	s := &bm.stats
	s.Writes++
	s.Total += result.Duration
	s.ByKind[result.Task.Kind]++
	if result.Error == nil {
		s.Succeeded++
	} else {
		s.Failed++
	}
	if result.Duration > s.SlowestDuration {
		s.Slowest, s.SlowestDuration = result.Task.Pathname, result.Duration
	}
}

// Snapshot copies the current totals.
func (bm *BuildMetrics) Snapshot() Stats {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	out := bm.stats
	out.ByKind = make(map[route.Kind]int64, len(bm.stats.ByKind))
	for k, v := range bm.stats.ByKind {
		out.ByKind[k] = v
	}
	return out
}
