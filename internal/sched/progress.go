package sched

import "sync"

// progressUpdater turns queue sizes into (processed, total) reports.
//
// The initial size restarts when the queue becomes non-empty and is
// raised whenever the queue grows past it or the label of the oldest job
// changes. A drained queue yields one final report.
type progressUpdater struct {
	mu      sync.Mutex
	size    int
	initial int
	label   string
}

func (p *progressUpdater) update(size int, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.size == 0 && size > 0 {
		p.initial = 0
	}
	p.size = size
	if size > 0 && (label != p.label || size > p.initial) {
		p.label = label
		p.initial = max(p.initial, size)
	}
}

type progressReport struct {
	processed, total int
	label            string
}

// tick returns the report for the current state, or false when there is
// nothing to report.
func (p *progressUpdater) tick() (progressReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.size == 0 {
		if p.initial == 0 {
			return progressReport{}, false
		}
		r := progressReport{processed: p.initial, total: p.initial, label: p.label}
		p.initial, p.label = 0, ""
		return r, true
	}
	return progressReport{processed: p.initial - p.size, total: p.initial, label: p.label}, true
}
