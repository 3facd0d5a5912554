package usecase

import (
	"runtime"
	"sync"
	"time"

	"github.com/takakanai/github-issue-linker/pkg/domain/model"
)

// Element count thresholds for the performance mode decision table
const (
	autoThreshold = 1000
	fastThreshold = 5000
)

// OptionsForElementCount derives scan options from a live count of elements
// on the page. Evaluated once at link processor construction and never
// revisited, except for the one-way downgrade to fast mode.
func OptionsForElementCount(count int) model.ScanOptions {
	switch {
	case count < autoThreshold:
		return model.ScanOptions{
			PerformanceMode:   model.ModeComprehensive,
			MaxProcessingTime: 100 * time.Millisecond,
			BatchSize:         100,
		}
	case count < fastThreshold:
		return model.ScanOptions{
			PerformanceMode:   model.ModeAuto,
			MaxProcessingTime: 500 * time.Millisecond,
			BatchSize:         50,
		}
	default:
		return model.ScanOptions{
			PerformanceMode:       model.ModeFast,
			MaxProcessingTime:     200 * time.Millisecond,
			BatchSize:             25,
			UseVisibilityDeferral: true,
		}
	}
}

// scheduler owns the derived scan options and the monotonic mode downgrade.
// Once a single scan overruns MaxProcessingTime the mode drops to fast and
// stays there for the page lifetime.
type scheduler struct {
	mu         sync.Mutex
	opts       model.ScanOptions
	downgraded bool

	// yield is called between batches; injectable for tests
	yield func()
}

func newScheduler(opts model.ScanOptions, yield func()) *scheduler {
	if yield == nil {
		yield = runtime.Gosched
	}
	return &scheduler{opts: opts, yield: yield}
}

func (s *scheduler) mode() model.PerformanceMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downgraded {
		return model.ModeFast
	}
	return s.opts.PerformanceMode
}

func (s *scheduler) batchSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.BatchSize
}

func (s *scheduler) deferToVisibility() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.UseVisibilityDeferral
}

// noteElapsed records the wall-clock cost of one processElement call and
// applies the one-way downgrade when it exceeded the budget.
func (s *scheduler) noteElapsed(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elapsed > s.opts.MaxProcessingTime {
		s.downgraded = true
	}
}

// forEachBatch visits indexes 0..count-1 in order, partitioned into
// consecutive groups of batchSize. Control is yielded after every group so
// the host scheduler is not starved by a long subtree.
func (s *scheduler) forEachBatch(count int, visit func(i int)) {
	size := s.batchSize()
	if size <= 0 {
		size = count
	}
	for start := 0; start < count; start += size {
		end := min(start+size, count)
		for i := start; i < end; i++ {
			visit(i)
		}
		s.yield()
	}
}
