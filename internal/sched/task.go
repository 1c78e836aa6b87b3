package sched

import (
	"context"
	"fmt"
	"image"

	"github.com/gogpu/tiled/internal/walker"
)

type taskKind uint8

const (
	kindMerge taskKind = iota
	kindFullRefresh
	kindSpontaneous
	kindStroke
)

func (k taskKind) String() string {
	switch k {
	case kindMerge:
		return "merge"
	case kindFullRefresh:
		return "full-refresh"
	case kindSpontaneous:
		return "spontaneous"
	case kindStroke:
		return "stroke"
	default:
		return fmt.Sprintf("taskKind(%d)", uint8(k))
	}
}

// task is one queued or running job.
type task struct {
	seq   uint64
	kind  taskKind
	name  string
	label string

	w      *walker.Walker
	spont  *SpontaneousJob
	stroke *stroke
	job    StrokeJob

	// replay undoes a cancelled stroke.
	replay func(ctx context.Context) error

	// internal jobs are queued by the scheduler itself and never overridden.
	internal bool
	result   chan error

	change    image.Rectangle
	access    image.Rectangle
	exclusive bool
	alone     bool
}

func (t *task) refreshRects() {
	switch t.kind {
	case kindMerge, kindFullRefresh:
		t.change, t.access = t.w.ChangeRect(), t.w.AccessRect()
	case kindStroke:
		t.change, t.access = t.job.Rect, t.job.Rect
	}
}

// ordered reports whether t waits for every earlier job of its stroke.
func (t *task) ordered() bool {
	return t.replay != nil || t.job.Sequentiality != Concurrent
}

func (t *task) isBarrier() bool {
	return t.kind == kindStroke && t.replay == nil && t.job.Sequentiality == Barrier
}

// conflicts reports whether t may not run next to the running job r.
func (t *task) conflicts(r *task) bool {
	if !t.exclusive && !r.exclusive {
		return false
	}
	return t.access.Overlaps(r.change) || r.access.Overlaps(t.change)
}
