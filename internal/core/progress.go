package core

import "sync"

// progressTracker turns chunk completions into non-decreasing fractions.
// The final 1.0 is held back until Finish so a run that fails after its
// last chunk never reports completion.
type progressTracker struct {
	mu        sync.Mutex
	fn        ProgressFunc
	total     int
	completed int
	last      float64
	finished  bool
}

func newProgressTracker(total int, fn ProgressFunc) *progressTracker {
	return &progressTracker{fn: fn, total: total}
}

// Advance credits n rows and reports the new fraction.
func (t *progressTracker) Advance(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed = min(t.completed+n, t.total)
	if t.completed >= t.total || t.fn == nil {
		return
	}
	frac := float64(t.completed) / float64(t.total)
	if frac > t.last {
		t.last = frac
		t.fn(frac)
	}
}

// Finish reports 1.0 exactly once.
func (t *progressTracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return
	}
	t.finished = true
	t.completed = t.total
	t.last = 1
	if t.fn != nil {
		t.fn(1)
	}
}
