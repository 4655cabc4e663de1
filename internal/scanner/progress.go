package scanner

import "sync"

// ProgressTracker accumulates scan progress and forwards snapshots to a callback.
type ProgressTracker struct {
	callback ProgressFunc
	progress Progress
	errors   []ScanError
	mu       sync.Mutex
}

// NewProgressTracker creates a tracker. callback may be nil.
func NewProgressTracker(callback ProgressFunc) *ProgressTracker {
	return &ProgressTracker{
		callback: callback,
		progress: Progress{Phase: PhaseListing},
	}
}

// SetPhase starts a new phase with the given total.
func (p *ProgressTracker) SetPhase(phase Phase, total int) {
	p.mu.Lock()
	p.progress = Progress{Phase: phase, Total: total}
	snapshot := p.progress
	p.mu.Unlock()
	p.notify(snapshot)
}

// Increment marks one more item of the current phase done.
func (p *ProgressTracker) Increment(item string) {
	p.mu.Lock()
	p.progress.Current++
	p.progress.CurrentItem = item
	snapshot := p.progress
	p.mu.Unlock()
	p.notify(snapshot)
}

// AddError records a non-fatal error.
func (p *ProgressTracker) AddError(err ScanError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, err)
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ScanError {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ScanError, len(p.errors))
	copy(out, p.errors)
	return out
}

// Get returns the current progress.
func (p *ProgressTracker) Get() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// notify runs outside the lock so a slow callback cannot stall other workers.
func (p *ProgressTracker) notify(snapshot Progress) {
	if p.callback != nil {
		p.callback(snapshot)
	}
}
